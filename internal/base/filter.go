// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// FilterPolicy is an algorithm for probabilistically encoding a set of keys.
// The canonical implementation is a Bloom filter.
//
// Every FilterPolicy has a name. This naming scheme permits a database to
// open with a policy different from the one it was created with, in which
// case stored filters whose names do not match the configured policy are
// ignored.
//
// The semantics of the encoded filter are:
//   - MayContain returning false implies the key was definitely not in the
//     set of keys used to create the filter (no false negatives),
//   - MayContain returning true means the key was possibly in that set
//     (false positives are allowed).
type FilterPolicy interface {
	// Name names the filter policy.
	Name() string

	// AppendFilter appends to dst an encoded filter that holds the given
	// keys, and returns the extended buffer.
	AppendFilter(dst []byte, keys [][]byte) []byte

	// MayContain returns whether the encoded filter may contain given key.
	// False positives are possible, where it returns true for keys not in
	// the original set.
	MayContain(filter, key []byte) bool
}
