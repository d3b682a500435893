// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
)

// numLevels is the number of levels a version's file layout comprises.
const numLevels = 7

// l0CompactionTrigger is the number of level-0 files at which level-0
// compaction starts.
const l0CompactionTrigger = 4

// internalKeyComparer bundles the user comparer with internal key
// comparison.
type internalKeyComparer struct {
	ucmp *base.Comparer
}

func (c internalKeyComparer) compare(a, b base.InternalKey) int {
	return base.InternalCompare(c.ucmp.Compare, a, b)
}

// fileMetadata holds the metadata for an on-disk table.
type fileMetadata struct {
	// fileNum is the file number.
	fileNum base.FileNum
	// size is the size of the file, in bytes.
	size uint64
	// smallest and largest are the inclusive bounds for the internal keys
	// stored in the table.
	smallest, largest base.InternalKey
	// allowedSeeks is the number of "charged" seeks this file may absorb
	// before it becomes a compaction candidate. A seek is charged to the
	// first file consulted by a Get that did not hold the key. Protected by
	// the DB mutex.
	allowedSeeks int
}

// initAllowedSeeks initializes the seek budget from the file size: one seek
// per 16 KiB of data, with a floor of 100.
func (f *fileMetadata) initAllowedSeeks() {
	f.allowedSeeks = int(f.size / 16384)
	if f.allowedSeeks < 100 {
		f.allowedSeeks = 100
	}
}

// totalSize returns the total size of all the files in f.
func totalSize(f []*fileMetadata) (size uint64) {
	for _, x := range f {
		size += x.size
	}
	return size
}

// ikeyRange returns the minimum smallest and maximum largest internalKey for
// all the fileMetadata in f0 and f1.
func ikeyRange(icmp internalKeyComparer, f0, f1 []*fileMetadata) (smallest, largest base.InternalKey) {
	first := true
	for _, f := range [2][]*fileMetadata{f0, f1} {
		for _, meta := range f {
			if first {
				first = false
				smallest, largest = meta.smallest, meta.largest
				continue
			}
			if icmp.compare(meta.smallest, smallest) < 0 {
				smallest = meta.smallest
			}
			if icmp.compare(meta.largest, largest) > 0 {
				largest = meta.largest
			}
		}
	}
	return smallest, largest
}

type byFileNum []*fileMetadata

func (b byFileNum) Len() int           { return len(b) }
func (b byFileNum) Less(i, j int) bool { return b[i].fileNum < b[j].fileNum }
func (b byFileNum) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

type bySmallest struct {
	dat  []*fileMetadata
	icmp internalKeyComparer
}

func (b bySmallest) Len() int { return len(b.dat) }
func (b bySmallest) Less(i, j int) bool {
	return b.icmp.compare(b.dat[i].smallest, b.dat[j].smallest) < 0
}
func (b bySmallest) Swap(i, j int) { b.dat[i], b.dat[j] = b.dat[j], b.dat[i] }

// maxBytesForLevel returns the maximum number of bytes for level n before
// the level's compaction score reaches 1: 10·2^(n-1) MiB.
func maxBytesForLevel(level int) float64 {
	return float64(uint64(10<<(level-1)) << 20)
}

// version is a collection of file metadata for on-disk tables at various
// levels. In-memory tables are flushed to level-0 tables, and compactions
// migrate data from level N to level N+1. The tables map internal keys
// (which are a user key, a set or delete kind, and a sequence number) to
// user values.
//
// The tables at level 0 are sorted by increasing fileNum. If two level 0
// tables have fileNums i and j and i < j, then the sequence numbers of every
// internal key in table i are all less than those for table j. The range of
// internal keys [fileMetadata.smallest, fileMetadata.largest] in each level 0
// table may overlap.
//
// The tables at any non-0 level are sorted by their internal key range and
// any two tables at the same non-0 level do not overlap.
//
// The internal key ranges of two tables at different levels X and Y may
// overlap, for any X != Y.
//
// Finally, for every internal key in a table at level X, there is no internal
// key in a higher level table that has both the same user key and a higher
// sequence number.
type version struct {
	files [numLevels][]*fileMetadata

	// Every version is part of a doubly-linked list of versions anchored at
	// versionSet.dummyVersion. A version is removed from the list when its
	// reference count drops to zero.
	prev, next *version

	// refs is the number of references to this version: the version set's
	// current pointer, plus any iterators or readers spanning the version.
	// Protected by the DB mutex.
	refs int32

	// These fields are the level that should be compacted next and its
	// compaction score. A score < 1 means that compaction is not strictly
	// needed.
	compactionScore float64
	compactionLevel int

	// fileToCompact holds a file whose allowedSeeks budget has been
	// exhausted, making it a seek-triggered compaction candidate. Protected
	// by the DB mutex.
	fileToCompact      *fileMetadata
	fileToCompactLevel int
}

func (v *version) ref() {
	v.refs++
}

// unref drops a reference. It returns true when the version became
// unreachable and was unlinked from the version list; the caller should
// consider scheduling obsolete file collection.
//
// The DB mutex must be held.
func (v *version) unref() bool {
	v.refs--
	if v.refs > 0 {
		return false
	}
	if v.refs < 0 {
		panic("shale: version refcount negative")
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	v.prev = nil
	v.next = nil
	return true
}

// updateCompactionScore updates v's compaction score and level.
func (v *version) updateCompactionScore() {
	// We treat level-0 specially by bounding the number of files instead of
	// number of bytes for two reasons:
	//
	// (1) With larger write-buffer sizes, it is nice not to do too many
	// level-0 compactions.
	//
	// (2) The files in level-0 are merged on every read and therefore we
	// wish to avoid too many files when the individual file size is small
	// (perhaps because of a small write-buffer setting, or very high
	// compression ratios, or lots of overwrites/deletions).
	v.compactionScore = float64(len(v.files[0])) / l0CompactionTrigger
	v.compactionLevel = 0

	for level := 1; level < numLevels-1; level++ {
		score := float64(totalSize(v.files[level])) / maxBytesForLevel(level)
		if score > v.compactionScore {
			v.compactionScore = score
			v.compactionLevel = level
		}
	}
}

// overlaps returns all elements of v.files[level] whose user key range
// intersects the inclusive range [ukey0, ukey1]. A nil bound leaves that
// side of the range unbounded. If level is non-zero then the user key ranges
// of v.files[level] do not overlap (although they may touch). If level is
// zero then that assumption cannot be made, and the [ukey0, ukey1] range is
// expanded to the union of those matching ranges so far and the computation
// is repeated until [ukey0, ukey1] stabilizes.
func (v *version) overlaps(level int, ucmp base.Compare, ukey0, ukey1 []byte) (ret []*fileMetadata) {
loop:
	for {
		for _, meta := range v.files[level] {
			m0 := meta.smallest.UserKey
			m1 := meta.largest.UserKey
			if ukey0 != nil && ucmp(m1, ukey0) < 0 {
				// meta is completely before the specified range; skip it.
				continue
			}
			if ukey1 != nil && ucmp(m0, ukey1) > 0 {
				// meta is completely after the specified range; skip it.
				continue
			}
			ret = append(ret, meta)

			// If level == 0, check if the newly added fileMetadata has
			// expanded the range. If so, restart the search.
			if level != 0 {
				continue
			}
			restart := false
			if ukey0 != nil && ucmp(m0, ukey0) < 0 {
				ukey0 = m0
				restart = true
			}
			if ukey1 != nil && ucmp(m1, ukey1) > 0 {
				ukey1 = m1
				restart = true
			}
			if restart {
				ret = ret[:0]
				continue loop
			}
		}
		return ret
	}
}

// checkOrdering checks that the files are consistent with respect to
// increasing file numbers (for level 0 files) and increasing and non-
// overlapping internal key ranges (for level non-0 files).
func (v *version) checkOrdering(icmp internalKeyComparer) error {
	for level, ff := range v.files {
		if level == 0 {
			prevFileNum := base.FileNum(0)
			for i, f := range ff {
				if i != 0 && prevFileNum >= f.fileNum {
					return errors.Errorf(
						"shale: level 0 files are not in increasing fileNum order: %s, %s",
						prevFileNum, f.fileNum)
				}
				prevFileNum = f.fileNum
			}
		} else {
			var prevLargest base.InternalKey
			for i, f := range ff {
				if i != 0 && icmp.compare(prevLargest, f.smallest) >= 0 {
					return errors.Errorf(
						"shale: level non-0 files are not in increasing ikey order: %s, %s",
						prevLargest, f.smallest)
				}
				if icmp.compare(f.smallest, f.largest) > 0 {
					return errors.Errorf(
						"shale: level non-0 file has inconsistent bounds: %s, %s",
						f.smallest, f.largest)
				}
				prevLargest = f.largest
			}
		}
	}
	return nil
}

// readStats records the file charged with a seek by a Get that consulted
// more than one file, for seek-triggered compaction accounting.
type readStats struct {
	seekFile      *fileMetadata
	seekFileLevel int
}

// get looks up the internal key in v's tables such that the result and ikey
// have the same user key, and the result's sequence number is the highest
// sequence number that is less than or equal to ikey's.
//
// If that entry's kind is set, its value is returned. If its kind is delete,
// ErrNotFound is returned. If there is no such entry, ErrNotFound is
// returned.
//
// The returned stats identify the file to charge with a seek, if any.
func (v *version) get(
	ikey base.InternalKey, tc *tableCache, ucmp *base.Comparer, ro *ReadOptions,
) (value []byte, stats readStats, err error) {
	ukey := ikey.UserKey
	icmp := internalKeyComparer{ucmp}

	var lastFileRead *fileMetadata
	var lastFileReadLevel int
	charge := func(f *fileMetadata, level int) {
		if lastFileRead != nil && stats.seekFile == nil {
			// A Get is about to consult a second file: charge the seek to
			// the first file consulted.
			stats.seekFile = lastFileRead
			stats.seekFileLevel = lastFileReadLevel
		}
		lastFileRead, lastFileReadLevel = f, level
	}

	// Search the level 0 files in decreasing fileNum order, which is also
	// decreasing sequence number order.
	for i := len(v.files[0]) - 1; i >= 0; i-- {
		f := v.files[0][i]
		// We compare user keys on the low end, as we do not want to reject a
		// table whose smallest internal key may have the same user key and a
		// lower sequence number. The internal key ordering sorts increasing
		// by user key but then descending by sequence number.
		if ucmp.Compare(ukey, f.smallest.UserKey) < 0 {
			continue
		}
		// We compare internal keys on the high end. It gives a tighter bound
		// than comparing user keys.
		if icmp.compare(ikey, f.largest) > 0 {
			continue
		}
		charge(f, 0)
		value, conclusive, err := tc.get(f.fileNum, ikey, ro)
		if conclusive {
			return value, stats, err
		}
	}

	// Search the remaining levels. Within a level at most one file can
	// contain the user key, located by binary search.
	for level := 1; level < numLevels; level++ {
		n := len(v.files[level])
		if n == 0 {
			continue
		}
		// Find the earliest file at that level whose largest key is >= ikey.
		index := sort.Search(n, func(i int) bool {
			return icmp.compare(v.files[level][i].largest, ikey) >= 0
		})
		if index == n {
			continue
		}
		f := v.files[level][index]
		if ucmp.Compare(ukey, f.smallest.UserKey) < 0 {
			continue
		}
		charge(f, level)
		value, conclusive, err := tc.get(f.fileNum, ikey, ro)
		if conclusive {
			return value, stats, err
		}
	}
	return nil, stats, base.ErrNotFound
}

// updateStats charges a seek to the file recorded in stats, returning true
// when the charge exhausted the file's budget and compaction should be
// considered.
//
// The DB mutex must be held.
func (v *version) updateStats(stats readStats) bool {
	if f := stats.seekFile; f != nil {
		f.allowedSeeks--
		if f.allowedSeeks <= 0 && v.fileToCompact == nil {
			v.fileToCompact = f
			v.fileToCompactLevel = stats.seekFileLevel
			return true
		}
	}
	return false
}
