// Package bloom implements the fixed-size probabilistic filter stored with
// each run to short-circuit point lookups for absent keys.
package bloom

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/keys"
)

// Version is the supported serialisation version. A mismatch is a hard
// decode error: a filter we cannot trust must not be consulted.
const Version = 2

// ErrVersion is returned when a stored filter carries an unknown version.
var ErrVersion = errors.New("bloom: unsupported version")

// ErrFormat is returned when a stored filter is structurally invalid.
var ErrFormat = errors.New("bloom: malformed filter")

// Filter is a classic Bloom filter over 64-bit key hashes.
type Filter struct {
	tableBits uint64 // size of the bit table
	hashCount uint32
	table     []byte
}

// New sizes a filter for n keys at the given false-positive rate.
func New(n uint64, fpRate float64) *Filter {
	if n == 0 {
		n = 1
	}
	m := math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	k := uint32(math.Round(m / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	nbits := uint64(m)
	if nbits < 64 {
		nbits = 64
	}
	return &Filter{
		tableBits: nbits,
		hashCount: k,
		table:     make([]byte, (nbits+7)/8),
	}
}

// TableBits returns the size of the bit table.
func (f *Filter) TableBits() uint64 { return f.tableBits }

// HashCount returns the number of probe positions per key.
func (f *Filter) HashCount() uint32 { return f.hashCount }

// SizeBytes returns the memory footprint of the bit table.
func (f *Filter) SizeBytes() int { return len(f.table) }

// Add records a key hash in the filter.
func (f *Filter) Add(h uint64) {
	h1, h2 := split(h)
	for i := uint32(0); i < f.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % f.tableBits
		f.table[bit/8] |= 1 << (bit % 8)
	}
}

// MayContain reports whether the key hash might be present. False means the
// key is definitely absent.
func (f *Filter) MayContain(h uint64) bool {
	h1, h2 := split(h)
	for i := uint32(0); i < f.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % f.tableBits
		if f.table[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// split derives the double-hashing pair from one 64-bit hash. The second
// hash is forced odd so the probe sequence covers the table.
func split(h uint64) (uint64, uint64) {
	return h, bits.RotateLeft64(h, 17) | 1
}

// HashKey hashes the first n parts of a key. The parts are fed to the hash
// with their lengths so part boundaries matter.
func HashKey(k keys.Key, n int) uint64 {
	var d xxhash.Digest
	d.Reset()
	var lbuf [binary.MaxVarintLen32]byte
	it := k.Parts()
	for i := 0; i < n && it.Next(); i++ {
		p := it.Value()
		m := binary.PutUvarint(lbuf[:], uint64(len(p)))
		d.Write(lbuf[:m])
		d.Write(p)
	}
	return d.Sum64()
}

// Append serialises the filter: a 4-element sequence of version, table size
// in bits, hash count, and the length-prefixed table bytes.
func (f *Filter) Append(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, Version)
	dst = binary.AppendUvarint(dst, f.tableBits)
	dst = binary.AppendUvarint(dst, uint64(f.hashCount))
	dst = binary.AppendUvarint(dst, uint64(len(f.table)))
	dst = append(dst, f.table...)
	return dst
}

// Decode parses a serialised filter and returns it with the unconsumed
// remainder of data.
func Decode(data []byte) (*Filter, []byte, error) {
	version, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errors.Wrap(ErrFormat, "version")
	}
	data = data[n:]
	if version != Version {
		return nil, nil, errors.Wrapf(ErrVersion, "expected %d, got %d", Version, version)
	}
	tableBits, n := binary.Uvarint(data)
	if n <= 0 || tableBits == 0 {
		return nil, nil, errors.Wrap(ErrFormat, "table size")
	}
	data = data[n:]
	hashCount, n := binary.Uvarint(data)
	if n <= 0 || hashCount == 0 || hashCount > 64 {
		return nil, nil, errors.Wrap(ErrFormat, "hash count")
	}
	data = data[n:]
	blobLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errors.Wrap(ErrFormat, "table length")
	}
	data = data[n:]
	want := (tableBits + 7) / 8
	if blobLen != want {
		return nil, nil, errors.Wrapf(ErrFormat,
			"wrong table size (expected %d, got %d)", want, blobLen)
	}
	if uint64(len(data)) < blobLen {
		return nil, nil, errors.Wrap(ErrFormat, "short table")
	}
	f := &Filter{
		tableBits: tableBits,
		hashCount: uint32(hashCount),
		table:     append([]byte(nil), data[:blobLen]...),
	}
	return f, data[blobLen:], nil
}
