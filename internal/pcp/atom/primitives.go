package atom

import (
	"fmt"
	"net"
	"strings"

	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// Primitive payload encoders/decoders implementing the endianness table in
// spec.md §4.1: u8/i8 single byte; u16/i16/u32/i32 little-endian; GnuId
// (u128) big-endian; IPv4 little-endian u32; IPv6 big-endian u128; strings
// UTF-8 NUL-terminated on encode, stripped on decode; bytes opaque.

// ChildU8 builds a Child atom carrying a single byte.
func ChildU8(tag id4.Id4, v uint8) Atom { return NewChild(tag, []byte{v}) }

// U8 decodes a single-byte Child payload.
func U8(a Atom) (uint8, error) {
	if len(a.payload) != 1 {
		return 0, fmt.Errorf("atom %s: expected 1-byte payload, got %d", a.tag, len(a.payload))
	}
	return a.payload[0], nil
}

// ChildU16LE builds a Child atom carrying a little-endian uint16.
func ChildU16LE(tag id4.Id4, v uint16) Atom {
	return NewChild(tag, []byte{byte(v), byte(v >> 8)})
}

// U16LE decodes a little-endian uint16 Child payload.
func U16LE(a Atom) (uint16, error) {
	if len(a.payload) != 2 {
		return 0, fmt.Errorf("atom %s: expected 2-byte payload, got %d", a.tag, len(a.payload))
	}
	return uint16(a.payload[0]) | uint16(a.payload[1])<<8, nil
}

// ChildU32LE builds a Child atom carrying a little-endian uint32.
func ChildU32LE(tag id4.Id4, v uint32) Atom {
	return NewChild(tag, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// U32LE decodes a little-endian uint32 Child payload.
func U32LE(a Atom) (uint32, error) {
	if len(a.payload) != 4 {
		return 0, fmt.Errorf("atom %s: expected 4-byte payload, got %d", a.tag, len(a.payload))
	}
	return readUint32LE(a.payload), nil
}

// ChildI32LE builds a Child atom carrying a little-endian int32.
func ChildI32LE(tag id4.Id4, v int32) Atom { return ChildU32LE(tag, uint32(v)) }

// I32LE decodes a little-endian int32 Child payload.
func I32LE(a Atom) (int32, error) {
	v, err := U32LE(a)
	return int32(v), err
}

// ChildGnuID builds a Child atom carrying a GnuId, big-endian on the wire.
func ChildGnuID(tag id4.Id4, id gnuid.GnuId) Atom {
	b := make([]byte, 16)
	copy(b, id[:])
	return NewChild(tag, b)
}

// GnuID decodes a big-endian 16-byte GnuId Child payload.
func GnuID(a Atom) (gnuid.GnuId, error) {
	if len(a.payload) != 16 {
		return gnuid.GnuId{}, fmt.Errorf("atom %s: expected 16-byte payload, got %d", a.tag, len(a.payload))
	}
	return gnuid.FromBytes(a.payload), nil
}

// ChildString builds a Child atom carrying a UTF-8 string, NUL-terminated
// on the wire.
func ChildString(tag id4.Id4, s string) Atom {
	b := append([]byte(s), 0)
	return NewChild(tag, b)
}

// String decodes a Child payload as UTF-8, stripping a single trailing NUL
// if present.
func String(a Atom) (string, error) {
	s := string(a.payload)
	return strings.TrimSuffix(s, "\x00"), nil
}

// ChildIPv4 builds a Child atom carrying an IPv4 address as a
// little-endian uint32 (spec.md §4.1 encoding table).
func ChildIPv4(tag id4.Id4, ip net.IP) Atom {
	v4 := ip.To4()
	if v4 == nil {
		panic("atom: ChildIPv4 requires an IPv4 address")
	}
	// v4 is big-endian octets; the wire wants a little-endian u32, i.e.
	// the octets reversed.
	return NewChild(tag, []byte{v4[3], v4[2], v4[1], v4[0]})
}

// ChildIPv6 builds a Child atom carrying an IPv6 address as a big-endian
// u128 (spec.md §4.1 encoding table) — i.e. the 16 octets unmodified.
func ChildIPv6(tag id4.Id4, ip net.IP) Atom {
	v6 := ip.To16()
	if v6 == nil {
		panic("atom: ChildIPv6 requires an IPv6 address")
	}
	b := make([]byte, 16)
	copy(b, v6)
	return NewChild(tag, b)
}

// IP decodes a Child payload as an IP address: a 4-byte little-endian u32
// is IPv4, a 16-byte payload is a big-endian IPv6 address.
func IP(a Atom) (net.IP, error) {
	switch len(a.payload) {
	case 4:
		return net.IPv4(a.payload[3], a.payload[2], a.payload[1], a.payload[0]), nil
	case 16:
		ip := make(net.IP, 16)
		copy(ip, a.payload)
		return ip, nil
	default:
		return nil, fmt.Errorf("atom %s: expected 4 or 16 byte IP payload, got %d", a.tag, len(a.payload))
	}
}
