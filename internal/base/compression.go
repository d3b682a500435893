// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// Compression is the per-block compression algorithm to use when writing
// sstables.
type Compression int

// The available compression types.
const (
	// DefaultCompression selects SnappyCompression.
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case DefaultCompression:
		return "Default"
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	default:
		return "Unknown"
	}
}
