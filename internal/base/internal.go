// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across the storage engine: the
// internal key format shared by the memtable, write-ahead log, sstables and
// manifest, the comparer over user keys, and the file-number and sequence
// number types threaded through the version machinery.
package base

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/redact"
)

// SeqNum is a sequence number defining precedence among identical user keys.
// A key with a higher sequence number takes precedence over an equal user key
// with a lower sequence number. Sequence numbers are stored durably within
// the internal key "trailer" as a 7-byte (uint56) integer, and the maximum
// sequence number is 2^56-1. As keys are committed to the database, they are
// assigned increasing sequence numbers. Readers use sequence numbers to read
// a consistent database state, ignoring keys with sequence numbers larger
// than the reader's "visible sequence number".
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number.
	SeqNumZero SeqNum = 0
	// SeqNumMax is the largest valid sequence number.
	SeqNumMax SeqNum = 1<<56 - 1
)

// String implements fmt.Stringer.
func (s SeqNum) String() string {
	if s == SeqNumMax {
		return "inf"
	}
	return fmt.Sprintf("%d", uint64(s))
}

// SafeFormat implements redact.SafeFormatter.
func (s SeqNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// FileNum is an identifier for a file within a database directory. File
// numbers are allocated by the version set, each number is used exactly once,
// and numbers strictly increase over the life of the database. A single
// counter is shared by WAL, MANIFEST and table files.
type FileNum uint64

// String implements fmt.Stringer.
func (fn FileNum) String() string { return fmt.Sprintf("%06d", uint64(fn)) }

// SafeFormat implements redact.SafeFormatter.
func (fn FileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(uint64(fn)))
}

// InternalKeyKind enumerates the kind of key: a deletion tombstone or a set
// value.
type InternalKeyKind uint8

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1

	// InternalKeyKindMax is the largest valid key kind. When constructing an
	// internal key for a seek, InternalCompare sorts decreasing by kind (after
	// sorting increasing by user key and decreasing by sequence number), so
	// InternalKeyKindMax sorts before any other kind for the same user key and
	// sequence number.
	InternalKeyKindMax InternalKeyKind = 1

	// InternalKeyKindInvalid marks a key that failed to decode.
	InternalKeyKindInvalid InternalKeyKind = 255
)

var internalKeyKindNames = map[InternalKeyKind]string{
	InternalKeyKindDelete:  "DEL",
	InternalKeyKindSet:     "SET",
	InternalKeyKindInvalid: "INVALID",
}

// String implements fmt.Stringer.
func (k InternalKeyKind) String() string {
	if s, ok := internalKeyKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN:%d", uint8(k))
}

// SafeFormat implements redact.SafeFormatter.
func (k InternalKeyKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

// InternalKeyTrailerLen is the number of bytes used to encode the trailer
// (sequence number and kind) of an internal key.
const InternalKeyTrailerLen = 8

// InternalKey is a key used for the in-memory and on-disk partial DBs that
// make up a shale DB.
//
// It consists of the user key (as given by the caller) followed by 8 bytes of
// metadata:
//   - 1 byte for the kind of internal key: delete or set,
//   - 7 bytes for a uint56 sequence number, in little-endian format.
type InternalKey struct {
	UserKey []byte
	Trailer uint64
}

// MakeTrailer constructs an internal key trailer from the specified sequence
// number and kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) uint64 {
	return uint64(seqNum)<<8 | uint64(kind)
}

// MakeInternalKey constructs an internal key from a specified user key,
// sequence number and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{
		UserKey: userKey,
		Trailer: MakeTrailer(seqNum, kind),
	}
}

// MakeSearchKey constructs an internal key that is appropriate for searching
// for the specified user key. The search key contains the maximal sequence
// number and kind, ensuring that it sorts before any other internal key for
// the same user key.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeInternalKey(userKey, SeqNumMax, InternalKeyKindMax)
}

// DecodeInternalKey decodes an encoded internal key. See InternalKey.Encode.
func DecodeInternalKey(encodedKey []byte) InternalKey {
	n := len(encodedKey) - InternalKeyTrailerLen
	var trailer uint64
	if n >= 0 {
		trailer = binary.LittleEndian.Uint64(encodedKey[n:])
		encodedKey = encodedKey[:n:n]
	} else {
		trailer = uint64(InternalKeyKindInvalid)
		encodedKey = nil
	}
	return InternalKey{
		UserKey: encodedKey,
		Trailer: trailer,
	}
}

// InternalCompare compares two internal keys using the specified user key
// comparison function. For equal user keys, internal keys compare in
// descending sequence number order. For equal user keys and sequence numbers,
// internal keys compare in descending kind order.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	if a.Trailer > b.Trailer {
		return -1
	}
	if a.Trailer < b.Trailer {
		return 1
	}
	return 0
}

// Encode encodes the receiver into the buffer. The buffer must be large
// enough to hold the encoded data. See InternalKey.Size.
func (k InternalKey) Encode(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], k.Trailer)
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalKeyTrailerLen
}

// SeqNum returns the sequence number component of the key.
func (k InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

// Kind returns the kind component of the key.
func (k InternalKey) Kind() InternalKeyKind {
	return InternalKeyKind(k.Trailer & 0xff)
}

// SetSeqNum sets the sequence number component of the key.
func (k *InternalKey) SetSeqNum(seqNum SeqNum) {
	k.Trailer = uint64(seqNum)<<8 | (k.Trailer & 0xff)
}

// SetKind sets the kind component of the key.
func (k *InternalKey) SetKind(kind InternalKeyKind) {
	k.Trailer = (k.Trailer &^ 0xff) | uint64(kind)
}

// Valid returns true if the key has a valid kind.
func (k InternalKey) Valid() bool {
	return k.Kind() <= InternalKeyKindMax
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Trailer: k.Trailer,
	}
}

// Separator returns a separator key such that k <= x && x < other under the
// comparer, preferring short keys. The buf parameter may be used to store the
// returned InternalKey.UserKey, though it is valid to pass nil.
func (k InternalKey) Separator(cmp Compare, sep Separator, buf []byte, other InternalKey) InternalKey {
	buf = sep(buf, k.UserKey, other.UserKey)
	if len(buf) <= len(k.UserKey) && cmp(k.UserKey, buf) < 0 {
		// The separator user key is physically shorter than k.UserKey (if it
		// is longer, we'll continue to use "k"), but logically after. Tack on
		// the max sequence number to the shortened user key to match the
		// behavior of LevelDB and RocksDB.
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindMax)
	}
	return k
}

// Successor returns a successor key such that k <= x. The buf parameter may
// be used to store the returned InternalKey.UserKey, though it is valid to
// pass nil.
func (k InternalKey) Successor(cmp Compare, succ Successor, buf []byte) InternalKey {
	buf = succ(buf, k.UserKey)
	if (len(k.UserKey) == 0 || len(buf) <= len(k.UserKey)) && cmp(k.UserKey, buf) < 0 {
		return MakeInternalKey(buf, SeqNumMax, InternalKeyKindMax)
	}
	return k
}

// String implements fmt.Stringer.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%s,%s", FormatBytes(k.UserKey), k.SeqNum(), k.Kind())
}

// FormatBytes formats a byte slice, rendering non-printable data as escaped
// hexadecimal.
type FormatBytes []byte

const lowerhex = "0123456789abcdef"

// Format implements fmt.Formatter.
func (p FormatBytes) Format(s fmt.State, c rune) {
	buf := make([]byte, 0, len(p))
	for _, b := range p {
		if b < ' ' || b >= 0x7f {
			buf = append(buf, `\x`...)
			buf = append(buf, lowerhex[b>>4], lowerhex[b&0xf])
			continue
		}
		buf = append(buf, b)
	}
	s.Write(buf)
}

// SharedPrefixLen returns the length of the shared prefix of a and b.
func SharedPrefixLen(a, b []byte) int {
	i, n := 0, len(a)
	if n > len(b) {
		n = len(b)
	}
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
