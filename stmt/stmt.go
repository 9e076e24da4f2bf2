// Package stmt holds the statement model of the run reader: an immutable
// keyed record with an operation kind and an LSN version.
package stmt

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/keys"
)

// Kind is the operation a statement carries. The values double as row type
// bytes in the on-disk framing.
type Kind uint8

const (
	// Replace sets the full value of a key.
	Replace Kind = 1

	// Delete is a tombstone for a key.
	Delete Kind = 2

	// Upsert is a deferred update; the merge layer squashes it against
	// older versions.
	Upsert Kind = 3
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case Replace:
		return "REPLACE"
	case Delete:
		return "DELETE"
	case Upsert:
		return "UPSERT"
	}
	return "UNKNOWN"
}

// IsStatement reports whether a row type byte names a statement row.
func IsStatement(t uint8) bool {
	return Kind(t) == Replace || Kind(t) == Delete || Kind(t) == Upsert
}

// ErrBadStatement is returned when a statement row body cannot be decoded.
var ErrBadStatement = errors.New("malformed statement row")

// Statement is one keyed record. Immutable after construction.
type Statement struct {
	kind  Kind
	lsn   uint64
	key   keys.Key
	value []byte
}

// New builds a statement. The key and value are retained, not copied.
func New(kind Kind, key keys.Key, value []byte, lsn uint64) *Statement {
	return &Statement{kind: kind, lsn: lsn, key: key, value: value}
}

// Kind returns the operation kind.
func (s *Statement) Kind() Kind { return s.kind }

// LSN returns the statement's version.
func (s *Statement) LSN() uint64 { return s.lsn }

// Key returns the statement's key.
func (s *Statement) Key() keys.Key { return s.key }

// Value returns the payload. Nil for tombstones.
func (s *Statement) Value() []byte { return s.value }

// AppendBody appends the statement's row body to dst:
// lsn uvarint | key len uvarint | key | value.
func (s *Statement) AppendBody(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, s.lsn)
	dst = binary.AppendUvarint(dst, uint64(len(s.key)))
	dst = append(dst, s.key...)
	dst = append(dst, s.value...)
	return dst
}

// DecodeBody decodes a statement row body for the given kind. The returned
// statement aliases body; callers that outlive the backing page must Clone.
func DecodeBody(kind Kind, body []byte) (*Statement, error) {
	lsn, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, errors.Wrap(ErrBadStatement, "lsn")
	}
	body = body[n:]
	klen, n := binary.Uvarint(body)
	if n <= 0 || uint64(n)+klen > uint64(len(body)) {
		return nil, errors.Wrap(ErrBadStatement, "key length")
	}
	key := keys.Key(body[n : uint64(n)+klen])
	value := body[uint64(n)+klen:]
	if len(value) == 0 {
		value = nil
	}
	return &Statement{kind: kind, lsn: lsn, key: key, value: value}, nil
}

// Clone returns a statement backed by fresh storage, detached from any page
// buffer the original may alias.
func (s *Statement) Clone() *Statement {
	c := &Statement{kind: s.kind, lsn: s.lsn, key: s.key.Clone()}
	if s.value != nil {
		c.value = append([]byte(nil), s.value...)
	}
	return c
}

// Compare orders two statements by key under d. LSN does not participate:
// equal keys mean the same logical record at different versions.
func Compare(a, b *Statement, d *keys.KeyDef) int {
	return d.Compare(a.key, b.key)
}

// CompareWithKey orders a statement against a search key, honouring partial
// keys.
func CompareWithKey(s *Statement, k keys.Key, d *keys.KeyDef) int {
	return d.Compare(s.key, k)
}
