package xlog

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Metadata rows carry field maps: uvarint field count, then per field a
// uvarint id, uvarint length, and the value bytes. Unknown ids are skipped
// by readers so the format can grow.

// MapBuilder accumulates a field map body.
type MapBuilder struct {
	fields []byte
	n      uint64
}

// PutBytes adds a raw-bytes field.
func (b *MapBuilder) PutBytes(id uint64, v []byte) {
	b.fields = binary.AppendUvarint(b.fields, id)
	b.fields = binary.AppendUvarint(b.fields, uint64(len(v)))
	b.fields = append(b.fields, v...)
	b.n++
}

// PutUint adds a uvarint-valued field.
func (b *MapBuilder) PutUint(id, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.PutBytes(id, tmp[:n])
}

// Finish serialises the map body.
func (b *MapBuilder) Finish() []byte {
	out := make([]byte, 0, binary.MaxVarintLen32+len(b.fields))
	out = binary.AppendUvarint(out, b.n)
	out = append(out, b.fields...)
	return out
}

// WalkMap decodes a field map body, invoking fn per field. Values alias
// body. Unknown ids must be ignored by fn (return nil).
func WalkMap(body []byte, fn func(id uint64, val []byte) error) error {
	n, sz := binary.Uvarint(body)
	if sz <= 0 {
		return errors.Wrap(ErrFormat, "bad field count")
	}
	body = body[sz:]
	for i := uint64(0); i < n; i++ {
		id, sz := binary.Uvarint(body)
		if sz <= 0 {
			return errors.Wrap(ErrFormat, "bad field id")
		}
		body = body[sz:]
		l, sz := binary.Uvarint(body)
		if sz <= 0 || uint64(sz)+l > uint64(len(body)) {
			return errors.Wrapf(ErrFormat, "bad field %d length", id)
		}
		if err := fn(id, body[sz:uint64(sz)+l]); err != nil {
			return err
		}
		body = body[uint64(sz)+l:]
	}
	return nil
}

// FieldUint decodes a uvarint field value.
func FieldUint(val []byte) (uint64, error) {
	v, n := binary.Uvarint(val)
	if n <= 0 || n != len(val) {
		return 0, errors.Wrap(ErrFormat, "bad uint field")
	}
	return v, nil
}
