// Package gnuid implements the PCP node's 128-bit opaque identifier used for
// session, broadcast and channel IDs. New values are time-ordered
// (UUIDv7-backed) so that sorting by ID approximates creation order,
// mirroring the reference implementation's use of `uuid::Uuid::now_v7()`
// (original_source src/pcp/gnuid.rs). Generation is delegated to
// github.com/google/uuid, the one teacher-adjacent dependency (already
// required by the teacher's own azure/blob-sidecar and cmd/blob-sidecar
// submodules) this module actually exercises.
package gnuid

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// GnuId is a 128-bit identifier, big-endian on the wire.
type GnuId [16]byte

// None is the sentinel zero value.
var None = GnuId{}

// New returns a fresh, time-ordered GnuId (UUIDv7).
func New() GnuId {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system RNG is broken; fall back to a
		// random v4 rather than panicking a long-running node.
		u = uuid.New()
	}
	var g GnuId
	copy(g[:], u[:])
	return g
}

// FromBytes copies a 16-byte big-endian slice into a GnuId. Panics if b is
// not exactly 16 bytes — callers should validate atom payload length first.
func FromBytes(b []byte) GnuId {
	if len(b) != 16 {
		panic(fmt.Sprintf("gnuid: expected 16 bytes, got %d", len(b)))
	}
	var g GnuId
	copy(g[:], b)
	return g
}

// FromUint128 builds a GnuId from a big-endian 128-bit unsigned integer,
// matching the wire/test representation used by spec.md §4.1's encoding
// table (GnuId is transmitted big-endian).
func FromUint128(v *big.Int) GnuId {
	var g GnuId
	b := v.Bytes()
	copy(g[16-len(b):], b)
	return g
}

// Uint128 returns the GnuId as a big-endian 128-bit unsigned integer, used
// by GnuId ordering comparisons (spec.md §8 "GnuId ordering").
func (g GnuId) Uint128() *big.Int {
	return new(big.Int).SetBytes(g[:])
}

// Less reports whether g sorts before other as an unsigned 128-bit integer
// — new GnuIds are time-ordered, so Less approximates "issued before".
func (g GnuId) Less(other GnuId) bool {
	for i := 0; i < 16; i++ {
		if g[i] != other[i] {
			return g[i] < other[i]
		}
	}
	return false
}

// IsNone reports whether g is the zero sentinel.
func (g GnuId) IsNone() bool { return g == None }

// ParseHex parses a 32-character hex string (as found in a
// "/channel/<id>" request path) into a GnuId.
func ParseHex(s string) (GnuId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return GnuId{}, fmt.Errorf("gnuid: %w", err)
	}
	if len(b) != 16 {
		return GnuId{}, fmt.Errorf("gnuid: expected 16 bytes, got %d", len(b))
	}
	var g GnuId
	copy(g[:], b)
	return g, nil
}

// String renders the GnuId as 32 uppercase hex characters, per spec.md §3.
func (g GnuId) String() string {
	return strings.ToUpper(hex.EncodeToString(g[:]))
}

// Truncate renders the GnuId with only the first n hex characters followed
// by ".." (spec.md §3 "displayable with truncation"). n is clamped to
// [0, 32].
func (g GnuId) Truncate(n int) string {
	s := g.String()
	if n < 0 {
		n = 0
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n] + ".."
}
