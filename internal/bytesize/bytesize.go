// Package bytesize parses human readable sizes such as "1Mi" or "512KB" for
// configuration values like the maximum packet size.
package bytesize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1 << 10
	MiB ByteSize = 1 << 20
	GiB ByteSize = 1 << 30
)

var ErrEmpty = errors.New("bytesize: empty value")

var sizeRe = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
}

// Parse converts s into a ByteSize. Plain integers are bytes.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, ErrEmpty
	}

	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid value %q", s)
	}

	mult, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("bytesize: invalid number %q", m[1])
		}
		v := f * float64(mult)
		if v >= math.MaxUint64 {
			return 0, fmt.Errorf("bytesize: %q overflows", s)
		}
		return ByteSize(v), nil
	}

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q", m[1])
	}
	if n > math.MaxUint64/uint64(mult) {
		return 0, fmt.Errorf("bytesize: %q overflows", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText lets mapstructure and yaml decode sizes from strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText writes the size in a form Parse accepts.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String uses the largest binary unit that divides the value exactly.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0"
	case b%GiB == 0:
		return fmt.Sprintf("%dGi", b/GiB)
	case b%MiB == 0:
		return fmt.Sprintf("%dMi", b/MiB)
	case b%KiB == 0:
		return fmt.Sprintf("%dKi", b/KiB)
	default:
		return strconv.FormatUint(uint64(b), 10)
	}
}

// Uint32 clamps the size to the range of a wire length field.
func (b ByteSize) Uint32() uint32 {
	if b > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(b)
}
