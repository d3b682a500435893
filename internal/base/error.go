// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a get call did not find the requested key.
var ErrNotFound = errors.New("shale: not found")

// ErrCorruption is a marker error for all errors caused by corrupted data
// encountered on disk. Corruption errors are constructed with CorruptionErrorf
// and detected with errors.Is(err, ErrCorruption).
var ErrCorruption = errors.New("shale: corruption")

// CorruptionErrorf formats according to a format specifier and returns the
// string as an error marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsCorruptionError returns true if the given error indicates on-disk
// corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}
