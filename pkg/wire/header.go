// Package wire implements the packet format spoken by the command server.
//
// Every packet starts with a fixed 32-byte header:
//
//	offset  field      encoding
//	0       size       uint32, big-endian, total packet length
//	4       cmd        uint32, big-endian, command identifier
//	8       reserved   6 x uint32, host byte order, zero on send
//
// The header is followed by size-32 bytes of command specific body.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the encoded header length in bytes.
const HeaderSize = 32

// Reserved command identifiers.
const (
	CmdKeepalive uint32 = 1
	CmdTransfer  uint32 = 2
)

// Packet size limits. The configured maximum defaults to DefaultMaxPacketSize
// and may not exceed MaxPacketSizeCeiling.
const (
	DefaultMaxPacketSize = 1 << 20
	MaxPacketSizeCeiling = 4 << 20
)

// ErrShortHeader is returned when fewer than HeaderSize bytes are decoded.
var ErrShortHeader = errors.New("wire: short header")

// Header is the decoded packet header. Size and Cmd are in host order.
// Reserved is carried through as read and has no meaning to the server.
type Header struct {
	Size     uint32
	Cmd      uint32
	Reserved [6]uint32
}

// BodyLen is the number of body bytes the header announces. It is zero for
// headers that claim less than HeaderSize.
func (h Header) BodyLen() int {
	if h.Size < HeaderSize {
		return 0
	}
	return int(h.Size - HeaderSize)
}

// EncodeHeader returns the wire form of a header with zeroed reserved words.
func EncodeHeader(size, cmd uint32) [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[0:4], size)
	binary.BigEndian.PutUint32(b[4:8], cmd)
	return b
}

// DecodeHeader parses the first HeaderSize bytes of b. It does not check
// Size or Cmd against any limit.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}

	h := Header{
		Size: binary.BigEndian.Uint32(b[0:4]),
		Cmd:  binary.BigEndian.Uint32(b[4:8]),
	}
	for i := range h.Reserved {
		off := 8 + 4*i
		h.Reserved[i] = binary.NativeEndian.Uint32(b[off : off+4])
	}
	return h, nil
}
