// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package shale provides an ordered key/value store.
//
// A DB's basic operations (Get, Set, Delete) should be self-explanatory. Get
// will return ErrNotFound if the requested key is not in the store. Callers
// are free to ignore this error.
//
// A DB also allows for iterating over the key/value pairs in key order. If d
// is a DB, the code below prints all key/value pairs whose keys are 'greater
// than or equal to' k:
//
//	iter := d.NewIter(nil)
//	for iter.SeekGE(k); iter.Valid(); iter.Next() {
//		fmt.Printf("key=%q value=%q\n", iter.Key(), iter.Value())
//	}
//	return iter.Close()
//
// The Options struct holds the optional parameters for the DB, including a
// Comparer to define a 'less than' relationship over keys. It is always
// valid to pass a nil *Options, which means to use the default parameter
// values. Any zero field of a non-nil *Options also means to use the default
// value for that parameter. Thus, the code below uses a custom Comparer, but
// the default values for every other parameter:
//
//	db, err := shale.Open(dirname, &shale.Options{
//		Comparer: myComparer,
//	})
package shale

import (
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/memtable"
	"github.com/cockroachdb/shale/record"
	"github.com/cockroachdb/shale/vfs"
)

const (
	// l0SlowdownWritesTrigger is the soft limit on the number of level-0
	// files. Writes are delayed by a millisecond at this point.
	l0SlowdownWritesTrigger = 8

	// l0StopWritesTrigger is the maximum number of level-0 files. Writes
	// wait for compaction at this point.
	l0StopWritesTrigger = 12

	// minTableCacheSize is the minimum size of the table cache.
	minTableCacheSize = 64

	// numNonTableCacheFiles is an approximation for the number of
	// MaxOpenFiles that we don't use for table caches.
	numNonTableCacheFiles = 10

	// maxWriteBatchGroupSize bounds the size of a group commit. Small
	// batches are grouped less aggressively; see buildBatchGroup.
	maxWriteBatchGroupSize   = 1 << 20
	smallWriteBatchSize      = 128 << 10
	smallWriteBatchGroupSlop = 128 << 10
)

var (
	// ErrNotFound is returned when a get operation does not find the
	// requested key.
	ErrNotFound = base.ErrNotFound
	// ErrClosed is returned when an operation is performed on a closed DB.
	ErrClosed = errors.New("shale: closed")
	// ErrReadOnly is returned when a write operation is performed on a
	// read-only database.
	ErrReadOnly = errors.New("shale: read-only")
)

// writer is an element of the write queue. Each caller of Apply owns one,
// stack-allocated; the queue holds only pointers to the callers' entries.
type writer struct {
	batch *Batch
	sync  bool
	// done and err are set by the front-of-queue writer that committed this
	// writer's batch as part of its group.
	done bool
	err  error
	cv   sync.Cond
}

// manualCompaction describes an externally requested compaction of a level's
// key range.
type manualCompaction struct {
	level int
	done  bool
	err   error
	// begin and end bound the user keys to compact; nil means unbounded.
	begin, end []byte
}

// DB provides a concurrent, persistent ordered key/value store.
//
// A single writer commits at a time; concurrent writers coalesce into group
// commits. Readers proceed in parallel, pinning the version they observe
// via its reference count; the memtables they observe stay alive for as
// long as the readers hold them.
type DB struct {
	dirname string
	opts    *Options
	icmp    internalKeyComparer

	tableCache tableCache

	fileLock io.Closer
	// infoLog is the LOG file handle when the DB owns its info logger.
	infoLog io.Closer

	// mu protects the fields in the nested struct and, as documented on
	// their declarations, fields of the structures it points at. It is
	// released while performing file I/O on the write path (WAL append and
	// memtable insert), during flush and compaction I/O, and while deleting
	// obsolete files.
	mu struct {
		sync.Mutex

		versions versionSet

		log struct {
			number base.FileNum
			file   vfs.File
			*record.Writer
		}

		// mem is the current mutable memtable. imm, possibly nil, is the
		// immutable memtable being (or about to be) flushed to a level-0
		// table. mem's sequence numbers are all higher than imm's, and
		// imm's sequence numbers are all higher than those on disk.
		mem, imm *memtable.MemTable

		// writers is the queue of pending writers. The writer at the head
		// of the queue performs the commit, batching in the writers behind
		// it.
		writers []*writer

		compact struct {
			// cond is signalled when background work finishes.
			cond sync.Cond
			// scheduled is whether the single background task is running or
			// queued. At most one background task exists at a time.
			scheduled bool
			// manual, if non-nil, is a requested manual compaction.
			manual *manualCompaction
		}

		// pendingOutputs holds the file numbers of tables being generated;
		// such files are protected from obsolete-file deletion.
		pendingOutputs map[base.FileNum]struct{}

		// snapshots is the list of open snapshots.
		snapshots snapshotList

		// bgErr is the sticky background error. Once set, every subsequent
		// write fails with it, and obsolete file collection is disabled
		// (the durable state may be indeterminate).
		bgErr error

		closed bool
	}
}

// Set sets the value for the given key. It overwrites any previous value for
// that key; a DB is not a multi-map.
//
// It is safe to modify the contents of the arguments after Set returns.
func (d *DB) Set(key, value []byte, opts *WriteOptions) error {
	b := new(Batch)
	b.Set(key, value)
	return d.Apply(b, opts)
}

// Delete deletes the value for the given key. Deletes are blind: they
// succeed even if the given key does not exist.
//
// It is safe to modify the contents of the arguments after Delete returns.
func (d *DB) Delete(key []byte, opts *WriteOptions) error {
	b := new(Batch)
	b.Delete(key)
	return d.Apply(b, opts)
}

// Apply applies the operations contained in the batch to the DB atomically.
//
// It is safe to modify the contents of the arguments after Apply returns.
func (d *DB) Apply(batch *Batch, opts *WriteOptions) error {
	if batch.Empty() {
		return nil
	}
	if batch.Count() == invalidBatchCount {
		return ErrInvalidBatch
	}
	return d.commitWrite(batch, opts.GetSync())
}

// commitWrite pushes the batch (nil for a forced memtable rotation) through
// the writer queue. The head of the queue commits a group of contiguous
// writers in one WAL record.
func (d *DB) commitWrite(batch *Batch, sync bool) error {
	w := &writer{batch: batch, sync: sync}
	w.cv.L = &d.mu

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mu.closed {
		return ErrClosed
	}
	if d.opts.ReadOnly {
		return ErrReadOnly
	}

	d.mu.writers = append(d.mu.writers, w)
	for !w.done && d.mu.writers[0] != w {
		w.cv.Wait()
	}
	if w.done {
		return w.err
	}

	// This writer is at the front of the queue and is responsible for the
	// commit.
	if d.mu.closed {
		return d.finishCommit(w, w, ErrClosed)
	}
	if err := d.mu.bgErr; err != nil {
		return d.finishCommit(w, w, err)
	}

	err := d.makeRoomForWrite(batch == nil)
	if err != nil || batch == nil {
		return d.finishCommit(w, w, err)
	}

	group, lastWriter, groupSync := d.buildBatchGroup()

	seqNum := d.mu.versions.lastSequence + 1
	count := base.SeqNum(group.Count())
	if seqNum+count-1 > base.SeqNumMax {
		return d.finishCommit(w, lastWriter, errors.New("shale: sequence number space exhausted"))
	}
	group.setSeqNum(seqNum)

	mem := d.mu.mem
	log, logFile := d.mu.log.Writer, d.mu.log.file

	// Release the mutex while appending to the WAL and inserting into the
	// memtable. Only the head of the writer queue can be here, so the log
	// and memtable are stable.
	d.mu.Unlock()
	_, err = log.WriteRecord(group.Repr())
	if err == nil {
		if groupSync {
			err = log.Flush()
			if err == nil {
				err = logFile.Sync()
			}
		} else {
			err = log.Flush()
		}
	}
	if err == nil {
		err = replayBatch(mem, group)
	}
	d.mu.Lock()

	if err == nil {
		d.mu.versions.lastSequence = seqNum + count - 1
	} else {
		// The WAL (or memtable) is in an indeterminate state: the write must
		// be treated as not durable, and all subsequent writes fail until
		// the DB is reopened.
		d.mu.bgErr = err
	}
	return d.finishCommit(w, lastWriter, err)
}

// finishCommit pops the committed group [head, lastWriter] off the writer
// queue, marking every member other than head as done, and wakes the new
// head of the queue. It returns err for the head's convenience.
//
// d.mu must be held.
func (d *DB) finishCommit(head, lastWriter *writer, err error) error {
	for {
		ready := d.mu.writers[0]
		d.mu.writers = d.mu.writers[1:]
		if ready != head {
			ready.err = err
			ready.done = true
			ready.cv.Signal()
		}
		if ready == lastWriter {
			break
		}
	}
	if len(d.mu.writers) > 0 {
		d.mu.writers[0].cv.Signal()
	}
	return err
}

// buildBatchGroup coalesces the contiguous prefix of the writer queue into a
// single batch. The group is bounded in size, never includes a forced
// rotation (nil batch), and never upgrades a later sync writer into a
// non-sync group.
//
// d.mu must be held.
func (d *DB) buildBatchGroup() (group *Batch, lastWriter *writer, sync bool) {
	head := d.mu.writers[0]
	group, lastWriter, sync = head.batch, head, head.sync

	maxSize := maxWriteBatchGroupSize
	if size := len(head.batch.Repr()); size <= smallWriteBatchSize {
		// Limit the growth of small batches, so that a write that needs a
		// small amount of data is not unduly delayed.
		maxSize = size + smallWriteBatchGroupSlop
	}

	var combined *Batch
	size := len(head.batch.Repr())
	for _, other := range d.mu.writers[1:] {
		if other.batch == nil {
			// A forced memtable rotation must run alone.
			break
		}
		if other.sync && !sync {
			// Do not upgrade a sync write into a non-sync group: the sync
			// writer would return before its data was durable.
			break
		}
		size += len(other.batch.Repr())
		if size > maxSize {
			break
		}
		if combined == nil {
			combined = new(Batch)
			if err := combined.Apply(head.batch); err != nil {
				break
			}
		}
		if err := combined.Apply(other.batch); err != nil {
			break
		}
		lastWriter = other
	}
	if combined != nil {
		group = combined
	}
	return group, lastWriter, sync
}

// replayBatch inserts the batch's operations into the memtable, assigning
// consecutive sequence numbers starting at the batch's.
func replayBatch(mem *memtable.MemTable, b *Batch) error {
	seqNum := b.SeqNum()
	for iter := b.iter(); ; seqNum++ {
		kind, ukey, value, ok := iter.next()
		if !ok {
			break
		}
		mem.Set(base.MakeInternalKey(ukey, seqNum, kind), value)
	}
	if seqNum != b.SeqNum()+base.SeqNum(b.Count()) {
		return ErrInvalidBatch
	}
	return nil
}

// makeRoomForWrite ensures that there is room in d.mu.mem for the next
// write.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) makeRoomForWrite(force bool) error {
	allowDelay := !force
	for {
		if err := d.mu.bgErr; err != nil {
			return err
		}

		if allowDelay && len(d.mu.versions.currentVersion().files[0]) >= l0SlowdownWritesTrigger {
			// We are getting close to hitting a hard limit on the number of
			// L0 files. Rather than delaying a single write by several
			// seconds when we hit the hard limit, start delaying each
			// individual write by 1ms to reduce latency variance.
			d.mu.Unlock()
			time.Sleep(1 * time.Millisecond)
			d.mu.Lock()
			allowDelay = false
			continue
		}

		if !force && d.mu.mem.ApproximateMemoryUsage() <= d.opts.WriteBufferSize {
			// There is room in the current memtable.
			return nil
		}

		if d.mu.imm != nil {
			// The current memtable is full, but the previous one is still
			// being flushed, so wait.
			d.mu.compact.cond.Wait()
			continue
		}

		if len(d.mu.versions.currentVersion().files[0]) >= l0StopWritesTrigger {
			// There are too many level-0 files.
			d.mu.compact.cond.Wait()
			continue
		}

		// Rotate: attempt to switch to a new WAL and memtable, freezing the
		// current memtable for flushing.
		newLogNumber := d.mu.versions.nextFileNumLocked()
		newLogFile, err := d.opts.FS.Create(dbFilename(d.dirname, fileTypeLog, newLogNumber))
		if err != nil {
			d.mu.bgErr = err
			return err
		}
		newLog := record.NewWriter(newLogFile)
		if err := d.mu.log.Close(); err != nil {
			newLogFile.Close()
			d.mu.bgErr = err
			return err
		}
		if err := d.mu.log.file.Close(); err != nil {
			newLog.Close()
			newLogFile.Close()
			d.mu.bgErr = err
			return err
		}
		d.mu.log.number, d.mu.log.file, d.mu.log.Writer = newLogNumber, newLogFile, newLog
		d.mu.imm, d.mu.mem = d.mu.mem, memtable.New(d.opts.Comparer.Compare)
		force = false
		d.maybeScheduleCompaction()
	}
}

// Get gets the value for the given key, at the sequence number given by the
// read options' snapshot (or the most recent committed write). It returns
// ErrNotFound if the DB does not contain the key.
//
// The caller should not modify the contents of the returned slice, but it is
// safe to modify the contents of the argument after Get returns.
func (d *DB) Get(key []byte, opts *ReadOptions) ([]byte, error) {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	seqNum := d.mu.versions.lastSequence
	if s := opts.GetSnapshot(); s != nil {
		seqNum = s.seqNum
	}
	mem, imm := d.mu.mem, d.mu.imm
	current := d.mu.versions.currentVersion()
	current.ref()
	d.mu.Unlock()

	// Look in the memtables before going to the on-disk current version.
	var value []byte
	var conclusive bool
	var err error
	value, conclusive, err = mem.Get(key, seqNum)
	if !conclusive && imm != nil {
		value, conclusive, err = imm.Get(key, seqNum)
	}

	var stats readStats
	if !conclusive {
		ikey := base.MakeInternalKey(key, seqNum, base.InternalKeyKindMax)
		value, stats, err = current.get(ikey, &d.tableCache, d.opts.Comparer, opts)
	}

	d.mu.Lock()
	if current.updateStats(stats) {
		d.maybeScheduleCompaction()
	}
	current.unref()
	d.mu.Unlock()
	return value, err
}

// NewSnapshot returns a point-in-time view of the current DB state. Readers
// using the snapshot observe exactly the writes that committed before its
// creation, regardless of later writes, flushes and compactions. The caller
// must call Snapshot.Close when the snapshot is no longer needed.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		panic(ErrClosed)
	}
	s := &Snapshot{
		db:     d,
		seqNum: d.mu.versions.lastSequence,
	}
	d.mu.snapshots.pushBack(s)
	return s
}

// NewIter returns an iterator over the DB's key/value pairs. The iterator is
// unpositioned: position it with a call to SeekGE, SeekLT, First or Last.
// The iterator provides a point-in-time view of the DB state, pinning the
// memtables and version it spans until it is closed.
func (d *DB) NewIter(opts *ReadOptions) *Iterator {
	d.mu.Lock()
	if d.mu.closed {
		d.mu.Unlock()
		return &Iterator{err: ErrClosed}
	}
	seqNum := d.mu.versions.lastSequence
	if s := opts.GetSnapshot(); s != nil {
		seqNum = s.seqNum
	}
	mem, imm := d.mu.mem, d.mu.imm
	current := d.mu.versions.currentVersion()
	current.ref()
	d.mu.Unlock()

	var iters []base.InternalIterator
	iters = append(iters, mem.NewIter())
	if imm != nil {
		iters = append(iters, imm.NewIter())
	}

	// The level 0 files need to be added from newest to oldest.
	var err error
	for i := len(current.files[0]) - 1; i >= 0; i-- {
		f := current.files[0][i]
		iter, ierr := d.tableCache.find(f.fileNum, opts)
		if ierr != nil {
			err = ierr
			break
		}
		iters = append(iters, iter)
	}

	// Add level iterators for the remaining levels.
	for level := 1; level < numLevels; level++ {
		if len(current.files[level]) == 0 {
			continue
		}
		iters = append(iters, newLevelIter(d.icmp, &d.tableCache, opts, current.files[level]))
	}

	it := &Iterator{
		cmp:    d.opts.Comparer.Compare,
		iter:   newMergingIter(d.icmp, iters...),
		seqNum: seqNum,
		err:    err,
		sample: func(ukey []byte) {
			d.readSample(current, ukey)
		},
		cleanup: func() {
			d.mu.Lock()
			current.unref()
			d.mu.Unlock()
		},
	}
	if err != nil {
		// Close the partially constructed stack; the cleanup hook still
		// releases the version reference.
		for _, i := range iters {
			i.Close()
		}
	}
	return it
}

// readSample charges a read-sampling seek for the given user key: if the key
// is covered by more than one level, the file at the shallowest level takes
// the charge, nudging overlapping data down the tree.
func (d *DB) readSample(v *version, ukey []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels := 0
	var stats readStats
	for level := 0; level < numLevels && levels < 2; level++ {
		for _, f := range v.files[level] {
			if d.opts.Comparer.Compare(ukey, f.smallest.UserKey) >= 0 &&
				d.opts.Comparer.Compare(ukey, f.largest.UserKey) <= 0 {
				if levels == 0 {
					stats.seekFile = f
					stats.seekFileLevel = level
				}
				levels++
				break
			}
		}
	}
	if levels >= 2 {
		if v.updateStats(stats) {
			d.maybeScheduleCompaction()
		}
	}
}

// LevelMetrics holds per-level counters.
type LevelMetrics struct {
	// NumFiles is the number of sstables at the level.
	NumFiles int64
	// Size is the total size of the sstables at the level, in bytes.
	Size uint64
}

// Metrics holds counters describing the state of the DB.
type Metrics struct {
	Levels [numLevels]LevelMetrics
	// LastSequence is the sequence number of the most recent committed
	// write.
	LastSequence base.SeqNum
}

// Metrics returns counters describing the current state of the DB.
func (d *DB) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	var m Metrics
	current := d.mu.versions.currentVersion()
	for level, ff := range current.files {
		m.Levels[level].NumFiles = int64(len(ff))
		m.Levels[level].Size = totalSize(ff)
	}
	m.LastSequence = d.mu.versions.lastSequence
	return m
}

// Flush rotates the current memtable and waits until its contents have been
// flushed to a level-0 sstable.
func (d *DB) Flush() error {
	// A nil batch forces makeRoomForWrite to rotate the memtable.
	if err := d.commitWrite(nil, false); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.mu.imm != nil && d.mu.bgErr == nil {
		d.mu.compact.cond.Wait()
	}
	return d.mu.bgErr
}

// Close closes the DB, waiting for any background flush or compaction to
// finish.
//
// It is not safe to close a DB until all outstanding iterators are closed.
// It is valid to call Close multiple times. Other methods should not be
// called after the DB has been closed.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.closed {
		return nil
	}
	d.mu.closed = true
	for d.mu.compact.scheduled {
		d.mu.compact.cond.Wait()
	}

	err := d.tableCache.Close()
	if !d.opts.ReadOnly && d.mu.log.Writer != nil {
		err = firstError(err, d.mu.log.Close())
		err = firstError(err, d.mu.log.file.Close())
	}
	err = firstError(err, d.mu.versions.close())
	if d.fileLock != nil {
		err = firstError(err, d.fileLock.Close())
		d.fileLock = nil
	}
	if d.infoLog != nil {
		err = firstError(err, d.infoLog.Close())
		d.infoLog = nil
	}
	return err
}

// firstError returns the first non-nil error of err0 and err1, or nil if
// both are nil.
func firstError(err0, err1 error) error {
	if err0 != nil {
		return err0
	}
	return err1
}
