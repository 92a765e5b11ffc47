package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/tcpcmd/internal/bytesize"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateServer, ServerConfig{})
	return v
}

// validateServer checks the packet size bounds: a packet must at least hold
// its header and never exceed the hard ceiling.
func validateServer(sl validator.StructLevel) {
	s := sl.Current().Interface().(ServerConfig)
	if s.MaxPacketSize < bytesize.ByteSize(wire.HeaderSize) {
		sl.ReportError(s.MaxPacketSize, "MaxPacketSize", "max_packet_size", "min", fmt.Sprint(wire.HeaderSize))
	}
	if s.MaxPacketSize > bytesize.ByteSize(wire.MaxPacketSizeCeiling) {
		sl.ReportError(s.MaxPacketSize, "MaxPacketSize", "max_packet_size", "max", fmt.Sprint(wire.MaxPacketSizeCeiling))
	}
}

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s), got %v", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q, got %v", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
