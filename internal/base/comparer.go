// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "bytes"

// Compare returns -1, 0, or +1 depending on whether a is 'less than', 'equal
// to' or 'greater than' b. An empty slice must be 'less than' any non-empty
// slice.
type Compare func(a, b []byte) int

// Separator is used to construct sstable index blocks. A trivial
// implementation is `return append(dst, a...)`, but appending fewer bytes
// leads to smaller sstables.
//
// Given keys a, b for which Compare(a, b) < 0, Separator appends to dst a key
// k such that:
//
//  1. Compare(a, k) <= 0, and
//  2. Compare(k, b) < 0.
//
// For example, if a and b are the []byte equivalents of the strings "black"
// and "blue", then the function may append "blb" to dst.
type Separator func(dst, a, b []byte) []byte

// Successor appends to dst a shortened key k given a key a such that
// Compare(a, k) <= 0. A simple implementation may return a unchanged.
type Successor func(dst, a []byte) []byte

// Comparer defines a total ordering over the space of []byte keys: a 'less
// than' relationship. The same comparison algorithm must be used for reads
// and writes over the lifetime of the DB. The Name is persisted in the
// manifest and verified at open.
type Comparer struct {
	Compare   Compare
	Separator Separator
	Successor Successor

	// Name is the name of the comparer.
	//
	// The on-disk format stores the comparer name, and opening a database
	// with a different comparer from the one it was created with will fail.
	Name string
}

// DefaultComparer is the default implementation of the Comparer interface.
// It uses the natural ordering, consistent with bytes.Compare.
var DefaultComparer = &Comparer{
	Compare: bytes.Compare,

	Separator: func(dst, a, b []byte) []byte {
		i, n := SharedPrefixLen(a, b), len(dst)
		dst = append(dst, a...)
		if len(b) > 0 {
			if i == len(a) {
				return dst
			}
			if i == len(b) {
				panic("shale: unreachable separator")
			}
			if a[i] == 0xff || a[i]+1 >= b[i] {
				// This isn't optimal, but it matches the C++ LevelDB
				// implementation, and it's good enough. For example, if a is
				// "1357" and b is "2", then the separator returned is "1357".
				// The same holds when a is "1357" and b is "14": the
				// separator returned is "1357", whereas "136" would also
				// work.
				return dst
			}
		}
		i += n
		for ; i < len(dst); i++ {
			if dst[i] != 0xff {
				dst[i]++
				return dst[:i+1]
			}
		}
		return dst
	},

	Successor: func(dst, a []byte) (ret []byte) {
		for i := 0; i < len(a); i++ {
			if a[i] != 0xff {
				dst = append(dst, a[:i+1]...)
				dst[len(dst)-1]++
				return dst
			}
		}
		// a is a run of 0xffs. Leave it alone.
		return append(dst, a...)
	},

	// This name is part of the C++ Level-DB implementation's default file
	// format, and should not be changed.
	Name: "leveldb.BytewiseComparator",
}
