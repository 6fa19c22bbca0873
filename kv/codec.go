package kv

import (
	"encoding/binary"
	"fmt"
)

// KeyBuilder composes the fixed/variable-length encodings that make up a
// composite key: strings are length-prefixed (2-byte big-endian length +
// UTF-8 bytes), integers are fixed-width big-endian (§4.1, §6).
type KeyBuilder struct {
	buf []byte
}

// NewKey starts a new composite key.
func NewKey() *KeyBuilder {
	return &KeyBuilder{}
}

// String appends a length-prefixed string component.
func (k *KeyBuilder) String(s string) *KeyBuilder {
	if len(s) > 0xFFFF {
		panic(fmt.Sprintf("kv: string key component too long: %d bytes", len(s)))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	k.buf = append(k.buf, lenBuf[:]...)
	k.buf = append(k.buf, s...)
	return k
}

// Int64 appends a fixed-width big-endian i64 component.
func (k *KeyBuilder) Int64(v int64) *KeyBuilder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	k.buf = append(k.buf, b[:]...)
	return k
}

// Int32 appends a fixed-width big-endian i32 component.
func (k *KeyBuilder) Int32(v int32) *KeyBuilder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	k.buf = append(k.buf, b[:]...)
	return k
}

// Bytes returns the encoded composite key.
func (k *KeyBuilder) Bytes() []byte {
	return k.buf
}

// Int64Key encodes a single i64 primary key, the common case for
// `*_by_key` column families.
func Int64Key(v int64) []byte {
	return NewKey().Int64(v).Bytes()
}

// StringKey encodes a single string primary key, used for `latest_*_by_id`
// column families.
func StringKey(s string) []byte {
	return NewKey().String(s).Bytes()
}

// DecodeInt64 reads a big-endian i64 previously written by Int64/Int64Key.
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("kv: expected 8-byte int64 key, got %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ForeignKey wraps a reference to a row in another column family. Verify
// checks the referenced primary key exists before a write is allowed to
// proceed, surfacing a FatalError (ForeignKeyViolation in the spec's error
// taxonomy) rather than silently writing a dangling reference.
type ForeignKey struct {
	TargetCF string
	Key      []byte
}

// Verify confirms the foreign key's target row exists within tx.
func (fk ForeignKey) Verify(tx *Transaction) error {
	v, err := tx.Get(fk.TargetCF, fk.Key)
	if err != nil {
		return err
	}
	if v == nil {
		return fatalf("foreign-key-violation", fmt.Errorf("no row %x in %q", fk.Key, fk.TargetCF))
	}
	return nil
}
