package bloom

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/shellac-db/shellac/keys"
)

func key(v uint32) keys.Key {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return keys.Encode(b)
}

// Every added key must be reported as possibly present. One-sided error is
// the whole contract.
func TestNoFalseNegatives(t *testing.T) {
	const n = 10000
	f := New(n, 0.01)
	for i := uint32(0); i < n; i++ {
		f.Add(HashKey(key(i), 1))
	}
	for i := uint32(0); i < n; i++ {
		if !f.MayContain(HashKey(key(i), 1)) {
			t.Fatalf("false negative for key %d", i)
		}
	}
}

func TestFalsePositiveRate(t *testing.T) {
	const n = 10000
	f := New(n, 0.01)
	for i := uint32(0); i < n; i++ {
		f.Add(HashKey(key(i), 1))
	}
	fp := 0
	for i := uint32(n); i < 2*n; i++ {
		if f.MayContain(HashKey(key(i), 1)) {
			fp++
		}
	}
	// Allow generous slack over the configured 1%.
	if fp > n/20 {
		t.Errorf("false positive rate too high: %d/%d", fp, n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New(1000, 0.01)
	for i := uint32(0); i < 1000; i++ {
		f.Add(HashKey(key(i), 1))
	}
	enc := f.Append(nil)
	dec, rest, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("expected full consume, %d bytes left", len(rest))
	}
	if dec.TableBits() != f.TableBits() || dec.HashCount() != f.HashCount() {
		t.Errorf("shape mismatch: %d/%d vs %d/%d",
			dec.TableBits(), dec.HashCount(), f.TableBits(), f.HashCount())
	}
	for i := uint32(0); i < 1000; i++ {
		if !dec.MayContain(HashKey(key(i), 1)) {
			t.Fatalf("decoded filter lost key %d", i)
		}
	}
}

// A filter with an unknown version must refuse to decode: consulting a
// filter we cannot trust would drop real keys from point lookups.
func TestDecodeVersionMismatch(t *testing.T) {
	f := New(10, 0.01)
	enc := f.Append(nil)
	enc[0] = Version + 1
	_, _, err := Decode(enc)
	if !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestDecodeWrongTableSize(t *testing.T) {
	f := New(10, 0.01)
	var enc []byte
	enc = binary.AppendUvarint(enc, Version)
	enc = binary.AppendUvarint(enc, f.TableBits())
	enc = binary.AppendUvarint(enc, uint64(f.HashCount()))
	enc = binary.AppendUvarint(enc, uint64(f.SizeBytes()+1))
	enc = append(enc, make([]byte, f.SizeBytes()+1)...)
	_, _, err := Decode(enc)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

// Part boundaries participate in the hash: ("ab","c") and ("a","bc") are
// different keys.
func TestHashKeyPartBoundaries(t *testing.T) {
	a := keys.Encode([]byte("ab"), []byte("c"))
	b := keys.Encode([]byte("a"), []byte("bc"))
	if HashKey(a, 2) == HashKey(b, 2) {
		t.Error("part boundaries must affect the hash")
	}
}

func TestHashKeyPrefixParts(t *testing.T) {
	full := keys.Encode([]byte("user"), []byte("42"))
	if HashKey(full, 1) != HashKey(keys.Encode([]byte("user")), 1) {
		t.Error("hashing n parts must ignore the rest")
	}
}

func BenchmarkMayContain(b *testing.B) {
	f := New(1_000_000, 0.01)
	for i := uint32(0); i < 1_000_000; i++ {
		f.Add(HashKey(key(i), 1))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.MayContain(HashKey(key(uint32(i)), 1))
	}
}

func ExampleFilter() {
	f := New(100, 0.01)
	f.Add(HashKey(key(7), 1))
	fmt.Println(f.MayContain(HashKey(key(7), 1)))
	// Output: true
}
