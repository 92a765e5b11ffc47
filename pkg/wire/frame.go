package wire

import (
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrSizeTooSmall is returned for headers announcing fewer than HeaderSize bytes.
	ErrSizeTooSmall = errors.New("wire: packet size below header size")

	// ErrPacketTooLarge is returned for packets above the configured limit.
	ErrPacketTooLarge = errors.New("wire: packet too large")
)

// Packet is one framed packet. Body is owned by the caller of ReadPacket.
type Packet struct {
	Header Header
	Body   []byte
}

// ReadPacket reads one packet from r. Packets whose size exceeds limit are
// rejected before any body byte is read. alloc supplies the body buffer; nil
// means make. A clean EOF before the first header byte is returned as io.EOF.
func ReadPacket(r io.Reader, limit uint32, alloc func(n int) []byte) (Packet, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Packet{}, err
	}

	hdr, _ := DecodeHeader(hb[:])
	if hdr.Size < HeaderSize {
		return Packet{Header: hdr}, fmt.Errorf("%w: %d", ErrSizeTooSmall, hdr.Size)
	}
	if hdr.Size > limit {
		return Packet{Header: hdr}, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, hdr.Size, limit)
	}

	n := hdr.BodyLen()
	var body []byte
	if alloc != nil {
		body = alloc(n)
	} else {
		body = make([]byte, n)
	}
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Packet{Header: hdr, Body: body}, err
	}

	return Packet{Header: hdr, Body: body}, nil
}

// AppendPacket appends a complete packet carrying body to dst.
func AppendPacket(dst []byte, cmd uint32, body []byte) ([]byte, error) {
	total := uint64(HeaderSize) + uint64(len(body))
	if total > math.MaxUint32 {
		return dst, fmt.Errorf("%w: %d", ErrPacketTooLarge, total)
	}
	hdr := EncodeHeader(uint32(total), cmd)
	dst = append(dst, hdr[:]...)
	return append(dst, body...), nil
}

// WritePacket writes a single packet to w in one call.
func WritePacket(w io.Writer, cmd uint32, body []byte) error {
	buf, err := AppendPacket(make([]byte, 0, HeaderSize+len(body)), cmd, body)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
