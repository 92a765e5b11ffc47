package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TransferPrefixSize is the fixed part of a transfer body: dest_pid, dest_fd
// and data_size, each four bytes in host byte order.
const TransferPrefixSize = 12

// ErrShortBody is returned when a transfer body is truncated.
var ErrShortBody = errors.New("wire: short transfer body")

// TransferBody is the body of a CmdTransfer packet.
type TransferBody struct {
	DestPID int32
	DestFD  int32
	Data    []byte
}

// DecodeTransfer parses a transfer body. Data aliases b.
// Bytes past data_size are ignored.
func DecodeTransfer(b []byte) (TransferBody, error) {
	if len(b) < TransferPrefixSize {
		return TransferBody{}, fmt.Errorf("%w: %d bytes", ErrShortBody, len(b))
	}

	n := binary.NativeEndian.Uint32(b[8:12])
	if uint64(n) > uint64(len(b)-TransferPrefixSize) {
		return TransferBody{}, fmt.Errorf("%w: data_size %d, have %d", ErrShortBody, n, len(b)-TransferPrefixSize)
	}

	return TransferBody{
		DestPID: int32(binary.NativeEndian.Uint32(b[0:4])),
		DestFD:  int32(binary.NativeEndian.Uint32(b[4:8])),
		Data:    b[TransferPrefixSize : TransferPrefixSize+int(n)],
	}, nil
}

// AppendTransfer appends the encoded body to dst.
func AppendTransfer(dst []byte, t TransferBody) []byte {
	dst = binary.NativeEndian.AppendUint32(dst, uint32(t.DestPID))
	dst = binary.NativeEndian.AppendUint32(dst, uint32(t.DestFD))
	dst = binary.NativeEndian.AppendUint32(dst, uint32(len(t.Data)))
	return append(dst, t.Data...)
}
