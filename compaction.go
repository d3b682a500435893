// Copyright 2013 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/memtable"
	"github.com/cockroachdb/shale/sstable"
	"github.com/cockroachdb/shale/vfs"
)

// compaction is a table compaction from one level to the next, starting from
// a given version.
type compaction struct {
	version *version

	// level is the level that is being compacted. Inputs from level and
	// level+1 will be merged to produce a set of level+1 files.
	level int

	// inputs are the tables to be compacted: the level inputs, the level+1
	// overlap set, and the grandparent (level+2) overlap used to bound
	// output file boundaries.
	inputs [3][]*fileMetadata

	// maxOutputFileSize rotates the output table when reached.
	maxOutputFileSize uint64
	// maxGrandparentOverlapBytes bounds the data in the grandparent level
	// that a single output file may overlap.
	maxGrandparentOverlapBytes uint64

	// State for shouldStopBefore.
	grandparentIndex int
	overlappedBytes  uint64
	seenKey          bool
}

func newCompaction(opts *Options, v *version, level int) *compaction {
	return &compaction{
		version:                    v,
		level:                      level,
		maxOutputFileSize:          uint64(opts.MaxFileSize),
		maxGrandparentOverlapBytes: 10 * uint64(opts.MaxFileSize),
	}
}

// expandedCompactionByteSizeLimit is the maximum number of bytes in all
// compacted files. We avoid expanding the lower level file set of a
// compaction if it would make the total compaction cover more than this many
// bytes.
func expandedCompactionByteSizeLimit(opts *Options) uint64 {
	return 25 * uint64(opts.MaxFileSize)
}

// pickCompaction picks the best compaction, if any, for the current version:
// a size-triggered compaction at the highest-scoring level, falling back to
// a seek-triggered compaction.
//
// d.mu must be held.
func (d *DB) pickCompaction() (c *compaction) {
	vs := &d.mu.versions
	cur := vs.currentVersion()

	if cur.compactionScore >= 1 {
		level := cur.compactionLevel
		c = newCompaction(d.opts, cur, level)
		// Pick the first file that comes after the compaction pointer for
		// the level, wrapping to the first file.
		cp := vs.compactPointers[level]
		for _, f := range cur.files[level] {
			if cp == nil || d.icmp.compare(f.largest, base.DecodeInternalKey(cp)) > 0 {
				c.inputs[0] = []*fileMetadata{f}
				break
			}
		}
		if len(c.inputs[0]) == 0 {
			c.inputs[0] = []*fileMetadata{cur.files[level][0]}
		}
	} else if f := cur.fileToCompact; f != nil {
		c = newCompaction(d.opts, cur, cur.fileToCompactLevel)
		c.inputs[0] = []*fileMetadata{f}
	} else {
		return nil
	}

	// Files in level 0 may overlap each other, so pick up all overlapping
	// ones.
	if c.level == 0 {
		smallest, largest := ikeyRange(d.icmp, c.inputs[0], nil)
		c.inputs[0] = cur.overlaps(0, d.icmp.ucmp.Compare, smallest.UserKey, largest.UserKey)
		if len(c.inputs[0]) == 0 {
			panic("shale: empty compaction")
		}
	}

	c.setupOtherInputs(d)
	return c
}

// pickManualCompaction returns the next bounded sub-compaction for the
// manual compaction, or nil when the requested range at the level has been
// consumed.
//
// d.mu must be held.
func (d *DB) pickManualCompaction(m *manualCompaction) *compaction {
	vs := &d.mu.versions
	cur := vs.currentVersion()

	files := cur.overlaps(m.level, d.icmp.ucmp.Compare, m.begin, m.end)
	if len(files) == 0 {
		return nil
	}
	// Avoid compacting too much in one shot in case the range is large.
	if m.level > 0 {
		limit := expandedCompactionByteSizeLimit(d.opts)
		var total uint64
		for i, f := range files {
			total += f.size
			if total >= limit && i+1 < len(files) {
				files = files[:i+1]
				break
			}
		}
	}

	c := newCompaction(d.opts, cur, m.level)
	c.inputs[0] = files
	c.setupOtherInputs(d)
	return c
}

// setupOtherInputs fills in the rest of the compaction inputs, regardless of
// whether the compaction was automatically or manually triggered, and
// advances the level's compaction pointer.
//
// d.mu must be held.
func (c *compaction) setupOtherInputs(d *DB) {
	smallest0, largest0 := ikeyRange(d.icmp, c.inputs[0], nil)
	c.inputs[1] = c.version.overlaps(c.level+1, d.icmp.ucmp.Compare, smallest0.UserKey, largest0.UserKey)
	smallest01, largest01 := ikeyRange(d.icmp, c.inputs[0], c.inputs[1])

	// Grow the inputs if it doesn't affect the number of level+1 files.
	if c.grow(d, smallest01, largest01) {
		smallest01, largest01 = ikeyRange(d.icmp, c.inputs[0], c.inputs[1])
	}

	// Compute the set of level+2 files that overlap this compaction.
	if c.level+2 < numLevels {
		c.inputs[2] = c.version.overlaps(c.level+2, d.icmp.ucmp.Compare, smallest01.UserKey, largest01.UserKey)
	}

	// Update the place where the next compaction at this level will start.
	// We do so here and not at the point the compaction installs, so that if
	// the compaction fails we will try a different key range next time.
	_, largest := ikeyRange(d.icmp, c.inputs[0], nil)
	buf := make([]byte, largest.Size())
	largest.Encode(buf)
	d.mu.versions.compactPointers[c.level] = buf
}

// grow grows the number of inputs at c.level without changing the number of
// c.level+1 files in the compaction, and returns whether the inputs grew.
// sm and la are the smallest and largest internal keys in all of the inputs.
//
// d.mu must be held.
func (c *compaction) grow(d *DB, sm, la base.InternalKey) bool {
	if len(c.inputs[1]) == 0 {
		return false
	}
	grow0 := c.version.overlaps(c.level, d.icmp.ucmp.Compare, sm.UserKey, la.UserKey)
	if len(grow0) <= len(c.inputs[0]) {
		return false
	}
	if totalSize(grow0)+totalSize(c.inputs[1]) >= expandedCompactionByteSizeLimit(d.opts) {
		return false
	}
	sm1, la1 := ikeyRange(d.icmp, grow0, nil)
	grow1 := c.version.overlaps(c.level+1, d.icmp.ucmp.Compare, sm1.UserKey, la1.UserKey)
	if len(grow1) != len(c.inputs[1]) {
		return false
	}
	c.inputs[0] = grow0
	c.inputs[1] = grow1
	return true
}

// isBaseLevelForUkey reports whether it is guaranteed that there are no
// key/value pairs at c.level+2 or higher that have the user key ukey.
func (c *compaction) isBaseLevelForUkey(ucmp base.Compare, ukey []byte) bool {
	for level := c.level + 2; level < numLevels; level++ {
		for _, f := range c.version.files[level] {
			if ucmp(ukey, f.largest.UserKey) <= 0 {
				if ucmp(ukey, f.smallest.UserKey) >= 0 {
					return false
				}
				// For levels above level 0, the files within a level are in
				// increasing ikey order, so we can break early.
				break
			}
		}
	}
	return true
}

// shouldStopBefore returns true if the output table should be closed before
// adding the given key, bounding the amount of data in the grandparent level
// that any single output file overlaps.
func (c *compaction) shouldStopBefore(d *DB, key base.InternalKey) bool {
	grandparents := c.inputs[2]
	for c.grandparentIndex < len(grandparents) &&
		d.icmp.compare(key, grandparents[c.grandparentIndex].largest) > 0 {
		if c.seenKey {
			c.overlappedBytes += grandparents[c.grandparentIndex].size
		}
		c.grandparentIndex++
	}
	c.seenKey = true
	if c.overlappedBytes > c.maxGrandparentOverlapBytes {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// maybeScheduleCompaction schedules background work if necessary: an
// immutable memtable to flush, a requested manual compaction, or a size- or
// seek-triggered level compaction. At most one background task runs at a
// time; a request arriving while one is running coalesces into the running
// task's rescheduling check.
//
// d.mu must be held.
func (d *DB) maybeScheduleCompaction() {
	if d.mu.compact.scheduled || d.mu.closed || d.mu.bgErr != nil || d.opts.ReadOnly {
		return
	}
	if d.mu.imm == nil && d.mu.compact.manual == nil {
		v := d.mu.versions.currentVersion()
		if v.compactionScore < 1 && v.fileToCompact == nil {
			// There is no work to be done.
			return
		}
	}
	d.mu.compact.scheduled = true
	go d.compact()
}

// compact runs one compaction and maybe schedules another.
func (d *DB) compact() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.compact1(); err != nil && d.mu.bgErr == nil {
		// Background errors are sticky: the current version may reference
		// state that was never durably installed.
		d.mu.bgErr = err
	}
	d.mu.compact.scheduled = false
	// The previous compaction may have produced too many files in a level,
	// so reschedule another compaction if needed.
	d.maybeScheduleCompaction()
	d.mu.compact.cond.Broadcast()
}

// compact1 runs one compaction: flushing the immutable memtable takes
// priority, then manual compactions, then automatic ones.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) compact1() error {
	if d.mu.closed {
		return nil
	}
	if d.mu.imm != nil {
		return d.compactMemTable()
	}

	var c *compaction
	manual := d.mu.compact.manual
	if manual != nil {
		c = d.pickManualCompaction(manual)
		if c == nil {
			// The requested range at this level has been consumed.
			manual.done = true
			d.mu.compact.manual = nil
			return nil
		}
	} else {
		c = d.pickCompaction()
		if c == nil {
			return nil
		}
	}
	c.version.ref()
	defer c.version.unref()

	// Check for a trivial move of one table from one level to the next. We
	// avoid such a move if there is lots of overlapping grandparent data.
	// Otherwise, the move could create a parent file that will require a
	// very expensive merge later on.
	if len(c.inputs[0]) == 1 && len(c.inputs[1]) == 0 &&
		totalSize(c.inputs[2]) <= c.maxGrandparentOverlapBytes {
		meta := c.inputs[0][0]
		err := d.mu.versions.logAndApply(d, &versionEdit{
			deletedFiles: map[deletedFileEntry]bool{
				{level: c.level, fileNum: meta.fileNum}: true,
			},
			newFiles: []newFileEntry{
				{level: c.level + 1, meta: meta},
			},
		})
		if err != nil {
			return err
		}
		d.opts.Logger.Infof("[JOB] moved table %s (%d bytes) from level %d to %d",
			meta.fileNum, meta.size, c.level, c.level+1)
		d.deleteObsoleteFiles()
		return nil
	}

	ve, pendingOutputs, err := d.compactDiskTables(c)
	if err == nil {
		err = d.mu.versions.logAndApply(d, ve)
	}
	for _, fileNum := range pendingOutputs {
		delete(d.mu.pendingOutputs, fileNum)
	}
	if err != nil {
		return err
	}
	d.deleteObsoleteFiles()
	return nil
}

// compactMemTable flushes the immutable memtable to a level-0 table.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) compactMemTable() error {
	if d.mu.imm.Empty() {
		// A forced rotation froze an empty memtable. Advance the log number
		// so the abandoned WAL can be reclaimed; there is nothing to write.
		err := d.mu.versions.logAndApply(d, &versionEdit{logNumber: d.mu.log.number})
		if err != nil {
			return err
		}
		d.mu.imm = nil
		d.deleteObsoleteFiles()
		return nil
	}
	meta, err := d.writeLevel0Table(d.opts.FS, d.mu.imm)
	if err != nil {
		return err
	}
	err = d.mu.versions.logAndApply(d, &versionEdit{
		logNumber: d.mu.log.number,
		newFiles: []newFileEntry{
			{level: 0, meta: meta},
		},
	})
	delete(d.mu.pendingOutputs, meta.fileNum)
	if err != nil {
		return err
	}
	d.mu.imm = nil
	d.deleteObsoleteFiles()
	return nil
}

// writeLevel0Table writes the given memtable to a level-0 on-disk table.
//
// If no error is returned, it adds the file number of that on-disk table to
// d.mu.pendingOutputs. It is the caller's responsibility to remove that
// fileNum from the set when it has been applied to d.mu.versions.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) writeLevel0Table(fs vfs.FS, mem *memtable.MemTable) (meta *fileMetadata, err error) {
	meta = &fileMetadata{}
	meta.fileNum = d.mu.versions.nextFileNumLocked()
	filename := dbFilename(d.dirname, fileTypeTable, meta.fileNum)
	d.mu.pendingOutputs[meta.fileNum] = struct{}{}
	defer func(fileNum base.FileNum) {
		if err != nil {
			delete(d.mu.pendingOutputs, fileNum)
		}
	}(meta.fileNum)

	// Release the d.mu lock while doing I/O.
	// Note the unusual order: Unlock and then Lock.
	d.mu.Unlock()
	defer d.mu.Lock()

	var (
		file vfs.File
		tw   *sstable.Writer
	)
	defer func() {
		if file != nil {
			err = firstError(err, file.Close())
		}
		if err != nil {
			fs.Remove(filename)
			meta = nil
		}
	}()

	file, err = fs.Create(filename)
	if err != nil {
		return nil, err
	}
	tw = sstable.NewWriter(file, sstable.WriterOptions{
		BlockRestartInterval: d.opts.BlockRestartInterval,
		BlockSize:            d.opts.BlockSize,
		Comparer:             d.opts.Comparer,
		Compression:          d.opts.Compression,
		FilterPolicy:         d.opts.FilterPolicy,
	})

	iter := mem.NewIter()
	defer iter.Close()
	iter.First()
	if !iter.Valid() {
		return nil, base.CorruptionErrorf("shale: cannot flush empty memtable")
	}
	meta.smallest = iter.Key().Clone()
	for ; iter.Valid(); iter.Next() {
		meta.largest = iter.Key()
		if err1 := tw.Add(iter.Key(), iter.Value()); err1 != nil {
			return nil, err1
		}
	}
	meta.largest = meta.largest.Clone()

	if err1 := tw.Close(); err1 != nil {
		return nil, err1
	}
	if err1 := file.Sync(); err1 != nil {
		return nil, err1
	}
	stat, err1 := file.Stat()
	if err1 != nil {
		return nil, err1
	}
	size := stat.Size()
	if size < 0 {
		return nil, base.CorruptionErrorf("shale: table file %q has negative size %d", filename, size)
	}
	meta.size = uint64(size)
	meta.initAllowedSeeks()

	d.opts.Logger.Infof("[JOB] flushed memtable to table %s (%d bytes)", meta.fileNum, meta.size)
	return meta, nil
}

// compactionOutput tracks a single in-progress output table of a compaction.
type compactionOutput struct {
	fileNum  base.FileNum
	filename string
	file     vfs.File
	writer   *sstable.Writer
	smallest base.InternalKey
	largest  base.InternalKey
}

// compactDiskTables runs a compaction that produces new on-disk tables from
// old on-disk tables, dropping record versions hidden behind newer versions
// older than every open snapshot, and obsolete deletion tombstones.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) compactDiskTables(c *compaction) (ve *versionEdit, pendingOutputs []base.FileNum, retErr error) {
	defer func() {
		if retErr != nil {
			for _, fileNum := range pendingOutputs {
				delete(d.mu.pendingOutputs, fileNum)
			}
			pendingOutputs = nil
		}
	}()

	// Anything with a sequence number at or below the smallest snapshot is
	// visible to every reader, so older versions of such keys are hidden
	// from every reader and can be dropped.
	smallestSnapshot := d.mu.versions.lastSequence
	if !d.mu.snapshots.empty() {
		if oldest := d.mu.snapshots.oldest(); oldest < smallestSnapshot {
			smallestSnapshot = oldest
		}
	}

	// Release the d.mu lock while doing I/O.
	// Note the unusual order: Unlock and then Lock.
	d.mu.Unlock()
	defer d.mu.Lock()

	iter, err := d.compactionIterator(c)
	if err != nil {
		return nil, pendingOutputs, err
	}
	defer func() {
		retErr = firstError(retErr, iter.Close())
	}()

	var (
		outputs []*compactionOutput
		out     *compactionOutput
	)
	defer func() {
		if out != nil && out.file != nil {
			retErr = firstError(retErr, out.file.Close())
		}
		if retErr != nil {
			for _, o := range outputs {
				d.opts.FS.Remove(o.filename)
			}
			if out != nil {
				d.opts.FS.Remove(out.filename)
			}
		}
	}()

	currentUkey := make([]byte, 0, 4096)
	hasCurrentUkey := false
	lastSeqNumForKey := base.SeqNumMax
	var sizes []uint64

	finish := func() error {
		if err := out.writer.Close(); err != nil {
			return err
		}
		if err := out.file.Sync(); err != nil {
			return err
		}
		stat, err := out.file.Stat()
		if err != nil {
			return err
		}
		err = out.file.Close()
		out.file = nil
		if err != nil {
			return err
		}
		sizes = append(sizes, uint64(stat.Size()))
		outputs = append(outputs, out)
		out = nil
		return nil
	}

	for iter.First(); iter.Valid(); {
		// Prioritize flushing a frozen memtable over the current compaction:
		// foreground writes stall when the immutable memtable lingers.
		if d.memTableNeedsFlush() {
			if err := d.flushDuringCompaction(); err != nil {
				return nil, pendingOutputs, err
			}
		}

		key := iter.Key()
		if out != nil && c.shouldStopBefore(d, key) {
			if err := finish(); err != nil {
				return nil, pendingOutputs, err
			}
		}

		if !key.Valid() {
			// Do not hide invalid keys.
			currentUkey = currentUkey[:0]
			hasCurrentUkey = false
			lastSeqNumForKey = base.SeqNumMax
		} else {
			ukey := key.UserKey
			if !hasCurrentUkey || d.icmp.ucmp.Compare(currentUkey, ukey) != 0 {
				// This is the first occurrence of this user key.
				currentUkey = append(currentUkey[:0], ukey...)
				hasCurrentUkey = true
				lastSeqNumForKey = base.SeqNumMax
			}

			drop := false
			if lastSeqNumForKey <= smallestSnapshot {
				// Rule (A): this entry is hidden behind a newer entry for
				// the same user key that is itself invisible to no reader.
				drop = true
			} else if key.Kind() == base.InternalKeyKindDelete &&
				key.SeqNum() <= smallestSnapshot &&
				c.isBaseLevelForUkey(d.icmp.ucmp.Compare, ukey) {
				// For this user key:
				// (1) there is no data in higher levels
				// (2) data in lower levels will have larger sequence numbers
				// (3) data in layers that are being compacted here and have
				//     smaller sequence numbers will be dropped in the next
				//     few iterations of this loop (by rule (A) above).
				// Therefore this deletion marker is obsolete and can be
				// dropped.
				drop = true
			}

			lastSeqNumForKey = key.SeqNum()
			if drop {
				iter.Next()
				continue
			}
		}

		if out == nil {
			d.mu.Lock()
			fileNum := d.mu.versions.nextFileNumLocked()
			d.mu.pendingOutputs[fileNum] = struct{}{}
			pendingOutputs = append(pendingOutputs, fileNum)
			d.mu.Unlock()

			filename := dbFilename(d.dirname, fileTypeTable, fileNum)
			file, err := d.opts.FS.Create(filename)
			if err != nil {
				return nil, pendingOutputs, err
			}
			out = &compactionOutput{
				fileNum:  fileNum,
				filename: filename,
				file:     file,
				writer: sstable.NewWriter(file, sstable.WriterOptions{
					BlockRestartInterval: d.opts.BlockRestartInterval,
					BlockSize:            d.opts.BlockSize,
					Comparer:             d.opts.Comparer,
					Compression:          d.opts.Compression,
					FilterPolicy:         d.opts.FilterPolicy,
				}),
				smallest: key.Clone(),
			}
		}
		out.largest = key.Clone()
		if err := out.writer.Add(key, iter.Value()); err != nil {
			return nil, pendingOutputs, err
		}
		if out.writer.EstimatedSize() >= c.maxOutputFileSize {
			if err := finish(); err != nil {
				return nil, pendingOutputs, err
			}
		}
		iter.Next()
	}
	if err := iter.Error(); err != nil {
		return nil, pendingOutputs, err
	}
	if out != nil {
		if err := finish(); err != nil {
			return nil, pendingOutputs, err
		}
	}

	ve = &versionEdit{
		deletedFiles: map[deletedFileEntry]bool{},
	}
	for i := 0; i < 2; i++ {
		for _, f := range c.inputs[i] {
			ve.deletedFiles[deletedFileEntry{
				level:   c.level + i,
				fileNum: f.fileNum,
			}] = true
		}
	}
	for i, o := range outputs {
		ve.newFiles = append(ve.newFiles, newFileEntry{
			level: c.level + 1,
			meta: &fileMetadata{
				fileNum:  o.fileNum,
				size:     sizes[i],
				smallest: o.smallest,
				largest:  o.largest,
			},
		})
	}
	// Persist the advanced compaction pointer for this level.
	if cp := d.mu.versions.compactPointers[c.level]; cp != nil {
		ve.compactPointers = append(ve.compactPointers, compactPointerEntry{
			level: c.level,
			key:   cp,
		})
	}
	d.opts.Logger.Infof("[JOB] compacted %d+%d tables at levels %d+%d into %d tables",
		len(c.inputs[0]), len(c.inputs[1]), c.level, c.level+1, len(outputs))
	return ve, pendingOutputs, nil
}

// memTableNeedsFlush reports whether an immutable memtable is waiting to be
// flushed.
func (d *DB) memTableNeedsFlush() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mu.imm != nil
}

// flushDuringCompaction flushes the immutable memtable from the middle of a
// long compaction, unblocking stalled writers.
func (d *DB) flushDuringCompaction() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mu.imm == nil {
		return nil
	}
	err := d.compactMemTable()
	d.mu.compact.cond.Broadcast()
	return err
}

// compactionIterator returns an iterator over all the input tables in a
// compaction. Compaction reads bypass cache population: their bulk scans
// would displace the cached working set.
func (d *DB) compactionIterator(c *compaction) (base.InternalIterator, error) {
	ro := &ReadOptions{DontFillCache: true}
	iters := make([]base.InternalIterator, 0, len(c.inputs[0])+1)
	var err error
	defer func() {
		if err != nil {
			for _, iter := range iters {
				iter.Close()
			}
		}
	}()

	if c.level != 0 {
		iters = append(iters, newLevelIter(d.icmp, &d.tableCache, ro, c.inputs[0]))
	} else {
		for _, f := range c.inputs[0] {
			var iter base.InternalIterator
			iter, err = d.tableCache.find(f.fileNum, ro)
			if err != nil {
				return nil, err
			}
			iters = append(iters, iter)
		}
	}

	iters = append(iters, newLevelIter(d.icmp, &d.tableCache, ro, c.inputs[1]))
	return newMergingIter(d.icmp, iters...), nil
}

// Compact compacts the key range [begin, end] through every level of the
// database, including flushing the current memtable. A nil begin or end
// leaves that side of the range unbounded. Compact returns when the range
// has been fully compacted.
func (d *DB) Compact(begin, end []byte) error {
	if err := d.Flush(); err != nil {
		return err
	}

	for level := 0; level < numLevels-1; level++ {
		m := &manualCompaction{
			level: level,
			begin: begin,
			end:   end,
		}
		d.mu.Lock()
		if d.mu.closed {
			d.mu.Unlock()
			return ErrClosed
		}
		// One manual compaction at a time.
		for d.mu.compact.manual != nil {
			d.mu.compact.cond.Wait()
		}
		d.mu.compact.manual = m
		d.maybeScheduleCompaction()
		for !m.done {
			d.mu.compact.cond.Wait()
		}
		err := firstError(m.err, d.mu.bgErr)
		d.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteObsoleteFiles deletes those files that are no longer needed: WAL
// files older than the active log, superseded manifests, and tables
// referenced by no live version and not in the pending output set. Disabled
// while a background error is set, since the current version may be
// indeterminate.
//
// d.mu must be held when calling this, but the mutex may be dropped and
// re-acquired during the course of this method.
func (d *DB) deleteObsoleteFiles() {
	if d.mu.bgErr != nil {
		return
	}
	liveFileNums := map[base.FileNum]struct{}{}
	for fileNum := range d.mu.pendingOutputs {
		liveFileNums[fileNum] = struct{}{}
	}
	d.mu.versions.addLiveFileNums(liveFileNums)
	logNumber := d.mu.versions.logNumber
	prevLogNumber := d.mu.versions.prevLogNumber
	manifestFileNumber := d.mu.versions.manifestFileNumber

	// Release the d.mu lock while doing I/O.
	// Note the unusual order: Unlock and then Lock.
	d.mu.Unlock()
	defer d.mu.Lock()

	fs := d.opts.FS
	list, err := fs.List(d.dirname)
	if err != nil {
		// Ignore any filesystem errors.
		return
	}
	for _, filename := range list {
		fileType, fileNum, ok := parseDBFilename(filename)
		if !ok {
			continue
		}
		keep := true
		switch fileType {
		case fileTypeLog:
			keep = fileNum >= logNumber || fileNum == prevLogNumber
		case fileTypeManifest:
			keep = fileNum >= manifestFileNumber
		case fileTypeTable, fileTypeOldFashionedTable:
			_, keep = liveFileNums[fileNum]
		}
		if keep {
			continue
		}
		if fileType == fileTypeTable || fileType == fileTypeOldFashionedTable {
			d.tableCache.evict(fileNum)
		}
		// Ignore any file system errors.
		fs.Remove(dbFilename(d.dirname, fileType, fileNum))
	}
}
