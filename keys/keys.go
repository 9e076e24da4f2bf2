// Package keys defines the part-encoded key representation shared by the
// run reader and its callers.
//
// A key is an ordered sequence of opaque parts. Keys with fewer parts than
// the index defines are valid search keys: a prefix compares equal to any
// key it is a prefix of, so it behaves as a range boundary rather than a
// point. All ordering goes through a KeyDef.
package keys

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Key is an encoded key: uvarint part count, then for each part a uvarint
// length followed by the part bytes. Keys are immutable once built.
type Key []byte

// ErrMalformedKey is returned when a key's framing cannot be decoded.
var ErrMalformedKey = errors.New("malformed key encoding")

// Encode builds a Key from raw parts.
func Encode(parts ...[]byte) Key {
	n := binary.MaxVarintLen32
	for _, p := range parts {
		n += binary.MaxVarintLen32 + len(p)
	}
	buf := make([]byte, 0, n)
	buf = binary.AppendUvarint(buf, uint64(len(parts)))
	for _, p := range parts {
		buf = binary.AppendUvarint(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return Key(buf)
}

// PartCount returns the number of parts in the key. A nil key has zero
// parts and acts as the unbounded search key.
func (k Key) PartCount() int {
	if len(k) == 0 {
		return 0
	}
	n, sz := binary.Uvarint(k)
	if sz <= 0 {
		return 0
	}
	return int(n)
}

// Part returns the i-th part, or nil if the key has fewer parts.
func (k Key) Part(i int) []byte {
	it := k.Parts()
	for j := 0; it.Next(); j++ {
		if j == i {
			return it.Value()
		}
	}
	return nil
}

// Parts returns an iterator over the key's parts.
func (k Key) Parts() PartIterator {
	if len(k) == 0 {
		return PartIterator{}
	}
	n, sz := binary.Uvarint(k)
	if sz <= 0 {
		return PartIterator{}
	}
	return PartIterator{rest: k[sz:], remaining: int(n)}
}

// Validate checks the key framing without allocating.
func (k Key) Validate() error {
	it := k.Parts()
	for it.Next() {
	}
	if it.err != nil {
		return it.err
	}
	if it.remaining != 0 {
		return errors.Wrapf(ErrMalformedKey, "%d parts missing", it.remaining)
	}
	return nil
}

// Clone returns a copy of the key backed by fresh storage.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// PartIterator walks the parts of a key in order.
type PartIterator struct {
	rest      []byte
	remaining int
	cur       []byte
	err       error
}

// Next advances to the next part. It returns false at the end of the key or
// on a framing error.
func (it *PartIterator) Next() bool {
	if it.remaining == 0 || it.err != nil {
		return false
	}
	l, sz := binary.Uvarint(it.rest)
	if sz <= 0 || uint64(sz)+l > uint64(len(it.rest)) {
		it.err = ErrMalformedKey
		return false
	}
	it.cur = it.rest[sz : uint64(sz)+l]
	it.rest = it.rest[uint64(sz)+l:]
	it.remaining--
	return true
}

// Value returns the current part.
func (it *PartIterator) Value() []byte { return it.cur }

// KeyDef describes an ordering over keys: how many parts participate and
// how individual parts compare. The zero ComparePart means bytewise order.
type KeyDef struct {
	// PartCount is the number of parts in a complete key under this
	// definition.
	PartCount int

	// ComparePart orders two raw parts. Nil means bytes.Compare.
	ComparePart func(a, b []byte) int
}

// NewKeyDef returns a KeyDef over n bytewise-ordered parts.
func NewKeyDef(n int) *KeyDef {
	return &KeyDef{PartCount: n}
}

// Compare orders a against b part-wise over the shared prefix, capped at the
// definition's part count. If one key runs out of parts while all shared
// parts are equal the keys compare equal: a partial key matches every key it
// prefixes.
func (d *KeyDef) Compare(a, b Key) int {
	cmp := d.ComparePart
	if cmp == nil {
		cmp = bytes.Compare
	}
	ai, bi := a.Parts(), b.Parts()
	for i := 0; i < d.PartCount; i++ {
		aok, bok := ai.Next(), bi.Next()
		if !aok || !bok {
			return 0
		}
		if c := cmp(ai.Value(), bi.Value()); c != 0 {
			return c
		}
	}
	return 0
}

// IsComplete reports whether k carries all parts of the definition, i.e.
// whether k identifies a single point in the key space.
func (d *KeyDef) IsComplete(k Key) bool {
	return k.PartCount() >= d.PartCount
}
