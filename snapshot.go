// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
)

// Snapshot provides a read-only point-in-time view of the DB state: a reader
// holding a snapshot observes exactly the writes whose sequence numbers are
// less than or equal to the snapshot's. While a snapshot is open, compaction
// will not drop record versions that the snapshot can observe.
type Snapshot struct {
	// The db the snapshot was created from, or nil after Close.
	db     *DB
	seqNum base.SeqNum

	// The next/prev links for the snapshotList doubly-linked list of
	// snapshots. Protected by the DB mutex.
	prev, next *Snapshot
}

// Close closes the snapshot, releasing its resources. Record versions the
// snapshot pinned become eligible for compaction. It is an error to use a
// snapshot after closing it.
func (s *Snapshot) Close() error {
	if s.db == nil {
		return errors.New("shale: snapshot already closed")
	}
	d := s.db
	d.mu.Lock()
	d.mu.snapshots.remove(s)
	d.mu.Unlock()
	s.db = nil
	return nil
}

// snapshotList is a doubly-linked list of open snapshots, in ascending
// sequence number order (snapshots are created with non-decreasing sequence
// numbers and appended at the back).
type snapshotList struct {
	root Snapshot
}

func (l *snapshotList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *snapshotList) empty() bool {
	return l.root.next == &l.root
}

// oldest returns the sequence number of the oldest open snapshot. The list
// must be non-empty.
func (l *snapshotList) oldest() base.SeqNum {
	return l.root.next.seqNum
}

func (l *snapshotList) pushBack(s *Snapshot) {
	s.prev = l.root.prev
	s.next = &l.root
	s.prev.next = s
	s.next.prev = s
}

func (l *snapshotList) remove(s *Snapshot) {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}
