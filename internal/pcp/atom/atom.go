// Package atom implements the PCP wire protocol's recursive binary Atom
// form: framing, encoding, the pure incremental "parseable" check, and the
// stream read loop. Grounded in original_source src/pcp/atom/mod.rs
// (ParentAtom/ChildAtom, HEADER_LENGTH, parseable/unchecked_parse/read_atom).
package atom

import (
	"bytes"
	"context"
	"fmt"
	"io"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// HeaderLength is the fixed 8-byte Atom header: 4-byte big-endian tag
// followed by 4-byte little-endian length-or-count (spec.md §4.1 I3).
const HeaderLength = 8

// parentBit is the high bit of the length-or-count word that discriminates
// Parent (1) from Child (0); the remaining 31 bits carry the count/length.
const parentBit = uint32(1) << 31

// Atom is the recursive binary unit of the PCP wire protocol. A zero value
// is not meaningful; construct via NewChild or NewParent.
//
// Atoms are parsed into owned, immutable byte buffers so that cloning one
// (via ordinary Go value copy — Atom holds only a tag, a bool, and two
// slice headers) is cheap and shares the underlying bytes, matching
// spec.md §9 "Atom ownership".
type Atom struct {
	tag      id4.Id4
	isParent bool
	children []Atom
	payload  []byte
}

// NewChild builds a leaf Atom with an opaque payload. The payload byte
// length must fit in 31 bits (spec.md §3 invariant I1).
func NewChild(tag id4.Id4, payload []byte) Atom {
	if len(payload) > 0x7fffffff {
		panic("atom: child payload exceeds 31-bit length")
	}
	return Atom{tag: tag, payload: payload}
}

// NewParent builds an internal-node Atom. The child count must fit in 31
// bits (spec.md §3 invariant I2); children preserve insertion order.
func NewParent(tag id4.Id4, children []Atom) Atom {
	if len(children) > 0x7fffffff {
		panic("atom: parent child count exceeds 31-bit length")
	}
	return Atom{tag: tag, isParent: true, children: children}
}

// ID returns the atom's tag.
func (a Atom) ID() id4.Id4 { return a.tag }

// IsParent reports whether this atom is an internal node.
func (a Atom) IsParent() bool { return a.isParent }

// Children returns the ordered child atoms. Empty/nil for a Child atom.
func (a Atom) Children() []Atom { return a.children }

// Payload returns the leaf's opaque bytes. Empty/nil for a Parent atom.
func (a Atom) Payload() []byte { return a.payload }

// Find returns the first direct child whose tag equals id, mirroring the
// reference implementation's `_get_by_id` linear scan
// (original_source src/pcp/classify.rs).
func (a Atom) Find(id id4.Id4) (Atom, bool) {
	for _, c := range a.children {
		if c.tag == id {
			return c, true
		}
	}
	return Atom{}, false
}

// FindAll returns every direct child whose tag equals id, in order.
func (a Atom) FindAll(id id4.Id4) []Atom {
	var out []Atom
	for _, c := range a.children {
		if c.tag == id {
			out = append(out, c)
		}
	}
	return out
}

// EncodedLen returns the total wire length of this atom's subtree.
func (a Atom) EncodedLen() int {
	if !a.isParent {
		return HeaderLength + len(a.payload)
	}
	n := HeaderLength
	for _, c := range a.children {
		n += c.EncodedLen()
	}
	return n
}

// Encode serializes the atom (and, recursively, its subtree) to its wire
// form, per the framing and encoding rules in spec.md §4.1.
func (a Atom) Encode() []byte {
	buf := make([]byte, 0, a.EncodedLen())
	return a.appendTo(buf)
}

func (a Atom) appendTo(buf []byte) []byte {
	tagBytes := a.tag.Bytes()
	buf = append(buf, tagBytes[:]...)
	if a.isParent {
		lw := uint32(len(a.children)) | parentBit
		buf = appendUint32LE(buf, lw)
		for _, c := range a.children {
			buf = c.appendTo(buf)
		}
		return buf
	}
	lw := uint32(len(a.payload)) &^ parentBit
	buf = appendUint32LE(buf, lw)
	buf = append(buf, a.payload...)
	return buf
}

func appendUint32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Parseable inspects buf (without consuming it) and reports whether a
// complete Atom sits at its start.
//
//   - n > 0, err == nil: the first complete atom occupies buf[:n].
//   - err is *pcperrors.NeedMoreError: buf is an incomplete prefix; the
//     error's N is a lower bound (may be an underestimate) on additional
//     bytes required — callers must loop.
//   - any other error: buf[:HeaderLength] (or less) is malformed.
//
// Complexity is O(size of subtree), matching spec.md §4.1.
func Parseable(buf []byte) (int, error) {
	if len(buf) < HeaderLength {
		return 0, &pcperrors.NeedMoreError{N: HeaderLength - len(buf)}
	}
	lw := readUint32LE(buf[4:8])
	isParent := lw&parentBit != 0
	count := int(lw &^ parentBit)

	if !isParent {
		total := HeaderLength + count
		if len(buf) < total {
			return 0, &pcperrors.NeedMoreError{N: total - len(buf)}
		}
		return total, nil
	}

	off := HeaderLength
	for i := 0; i < count; i++ {
		if len(buf) < off+HeaderLength {
			// Underestimate: we don't yet know the i-th child's payload
			// length, so only require enough bytes for its header.
			return 0, &pcperrors.NeedMoreError{N: off + HeaderLength - len(buf)}
		}
		n, err := Parseable(buf[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}

// uncheckedParse assumes Parseable already validated buf[:n] as complete
// and decodes it into an owned Atom, matching original_source's
// `unchecked_parse`.
func uncheckedParse(buf []byte) Atom {
	tag := id4.FromBytes([4]byte(buf[0:4]))
	lw := readUint32LE(buf[4:8])
	isParent := lw&parentBit != 0
	count := int(lw &^ parentBit)

	if !isParent {
		payload := make([]byte, count)
		copy(payload, buf[HeaderLength:HeaderLength+count])
		return NewChild(tag, payload)
	}

	children := make([]Atom, 0, count)
	off := HeaderLength
	for i := 0; i < count; i++ {
		n, _ := Parseable(buf[off:])
		child := uncheckedParse(buf[off : off+n])
		children = append(children, child)
		off += n
	}
	return NewParent(tag, children)
}

// Parse decodes a byte slice holding exactly one complete atom. It runs
// Parseable itself and returns its error (ErrNeedMore or a parse error) for
// incomplete or malformed input, and a ParseError when buf holds trailing
// bytes after the atom.
func Parse(buf []byte) (Atom, error) {
	n, err := Parseable(buf)
	if err != nil {
		return Atom{}, err
	}
	if n != len(buf) {
		return Atom{}, pcperrors.NewParseError("atom.Parse", fmt.Errorf("trailing %d byte(s) after complete atom", len(buf)-n))
	}
	return uncheckedParse(buf), nil
}

// ReadFrom repeatedly reads from r into buf (an accumulating scratch
// buffer) until a complete atom is available, then returns it with the
// consumed bytes removed from buf. Matches original_source's
// `read_atom<T: AsyncRead>`.
func ReadFrom(ctx context.Context, r io.Reader, buf *bytes.Buffer) (Atom, error) {
	for {
		if ctx.Err() != nil {
			return Atom{}, ctx.Err()
		}
		n, err := Parseable(buf.Bytes())
		if err == nil {
			full := make([]byte, n)
			copy(full, buf.Bytes()[:n])
			buf.Next(n)
			return uncheckedParse(full), nil
		}
		nm, ok := err.(*pcperrors.NeedMoreError)
		if !ok {
			return Atom{}, pcperrors.NewParseError("atom.ReadFrom", err)
		}

		want := nm.N
		if want < 4096 {
			want = 4096
		}
		chunk := make([]byte, want)
		read, rerr := r.Read(chunk)
		if read > 0 {
			buf.Write(chunk[:read])
		}
		if rerr != nil {
			if read == 0 {
				if rerr == io.EOF {
					return Atom{}, io.ErrUnexpectedEOF
				}
				return Atom{}, pcperrors.NewParseError("atom.ReadFrom", rerr)
			}
		}
		if read == 0 && rerr == nil {
			return Atom{}, io.ErrUnexpectedEOF
		}
	}
}
