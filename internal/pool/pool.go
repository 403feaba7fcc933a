package pool

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/petrelql/petrel/pkg/errors"
)

// Handle is an opaque reference to a committed byte range inside the arena.
// A handle is valid from Commit until Release and is never reused.
type Handle uint64

// segment is a contiguous byte range inside the arena, either free or used.
type segment struct {
	start  int
	length int
}

// Pool manages access to a fixed-size contiguous byte arena. Blobs are
// committed into the arena and referenced by handle until released. Writers
// serialize on the pool mutex; Read is optimistic and only falls back to the
// lock when a compaction relocated bytes mid-read.
type Pool struct {
	mu    sync.Mutex
	arena []byte
	size  int

	// free is unordered; order only matters while scanning for a fit.
	free []segment

	// used maps Handle -> segment. Values are immutable; relocation stores
	// a replacement segment so lock-free readers never observe a segment
	// being mutated.
	used      sync.Map
	usedCount int

	nextHandle atomic.Uint64

	// generation is bumped immediately before every byte relocation during
	// level-2 compaction. Readers capture it before resolving a segment and
	// re-check it after: an unchanged generation proves no relocation
	// overlapped the optimistic read.
	generation atomic.Uint64

	commits       atomic.Int64
	failedCommits atomic.Int64
	reads         atomic.Int64
	readLocks     atomic.Int64
	releases      atomic.Int64
	l1Compactions atomic.Int64
	l2Compactions atomic.Int64
}

// Stats is a point-in-time snapshot of pool counters and occupancy.
type Stats struct {
	Size           int   `json:"size"`
	FreeSegments   int   `json:"free_segments"`
	UsedSegments   int   `json:"used_segments"`
	AvailableSpace int   `json:"available_space"`
	Commits        int64 `json:"commits"`
	FailedCommits  int64 `json:"failed_commits"`
	Reads          int64 `json:"reads"`
	ReadLocks      int64 `json:"read_locks"`
	Releases       int64 `json:"releases"`
	L1Compactions  int64 `json:"l1_compactions"`
	L2Compactions  int64 `json:"l2_compactions"`
}

// New creates a pool owning a fixed arena of the given size in bytes.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.ErrCodePoolSize, "pool size must be positive, got %d", size)
	}
	return &Pool{
		arena: make([]byte, size),
		size:  size,
		free:  []segment{{start: 0, length: size}},
	}, nil
}

// Commit stores a copy of data in the arena and returns a fresh handle. The
// boolean is false when the payload cannot fit even after both compaction
// levels; running out of space is an expected condition under load, not an
// error. The write is all-or-nothing.
func (p *Pool) Commit(data []byte) (Handle, bool) {
	length := len(data)

	// Zero-byte payloads need no arena space.
	if length == 0 {
		h := Handle(p.nextHandle.Add(1))
		p.mu.Lock()
		p.used.Store(h, segment{})
		p.usedCount++
		p.mu.Unlock()
		p.commits.Add(1)
		return h, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	index := p.findFreeSegment(length)
	if index == -1 {
		// Compacting cannot help if there isn't enough free space in total.
		if p.availableLocked() < length {
			p.failedCommits.Add(1)
			return 0, false
		}
		// A single free segment is already maximally compacted.
		if len(p.free) <= 1 {
			p.failedCommits.Add(1)
			return 0, false
		}
		p.level1Compaction()
		index = p.findFreeSegment(length)
		if index == -1 {
			p.level2Compaction()
			index = p.findFreeSegment(length)
			if index == -1 {
				p.failedCommits.Add(1)
				return 0, false
			}
		}
	}

	freeSeg := p.free[index]
	copy(p.arena[freeSeg.start:freeSeg.start+length], data)

	if freeSeg.length > length {
		p.free[index].start += length
		p.free[index].length -= length
	} else {
		p.free = append(p.free[:index], p.free[index+1:]...)
	}

	h := Handle(p.nextHandle.Add(1))
	p.used.Store(h, segment{start: freeSeg.start, length: length})
	p.usedCount++
	p.commits.Add(1)
	return h, true
}

// Read returns a zero-copy view over the bytes stored for a live handle. The
// view borrows the arena: it is valid only until the next release or
// compaction affecting the handle, and the caller must not retain it across a
// mutating call on the pool.
//
// The read is optimistic: the segment location is resolved without the pool
// lock, then validated against the relocation generation. A reader that races
// a level-2 compaction retries under the lock.
func (p *Pool) Read(h Handle) ([]byte, error) {
	p.reads.Add(1)

	gen := p.generation.Load()
	value, ok := p.used.Load(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	seg := value.(segment)
	view := p.arena[seg.start : seg.start+seg.length : seg.start+seg.length]
	if p.generation.Load() == gen {
		return view, nil
	}

	// A relocation overlapped the lock-free lookup; re-read the
	// authoritative segment location under the lock.
	p.readLocks.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok = p.used.Load(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	seg = value.(segment)
	return p.arena[seg.start : seg.start+seg.length : seg.start+seg.length], nil
}

// ReadBytes returns a copy of the bytes stored for a live handle. The copy is
// made under the pool lock, so it is safe to use regardless of later
// compactions or releases.
func (p *Pool) ReadBytes(h Handle) ([]byte, error) {
	p.reads.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.used.Load(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	seg := value.(segment)
	out := make([]byte, seg.length)
	copy(out, p.arena[seg.start:seg.start+seg.length])
	return out, nil
}

// ReadRelease reads and releases a handle in one lock acquisition, returning
// a copy of the stored bytes. The copy outlives the segment's return to the
// free list.
func (p *Pool) ReadRelease(h Handle) ([]byte, error) {
	p.reads.Add(1)
	p.releases.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.used.LoadAndDelete(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	seg := value.(segment)
	p.usedCount--
	out := make([]byte, seg.length)
	copy(out, p.arena[seg.start:seg.start+seg.length])
	if seg.length > 0 {
		p.free = append(p.free, seg)
	}
	return out, nil
}

// Release returns the handle's segment to the free pool. Releasing an unknown
// or already-released handle is a caller bug and fails with INVALID_HANDLE.
func (p *Pool) Release(h Handle) error {
	p.releases.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.used.LoadAndDelete(h)
	if !ok {
		return invalidHandle(h)
	}
	seg := value.(segment)
	p.usedCount--
	if seg.length > 0 {
		p.free = append(p.free, seg)
	}
	return nil
}

// AvailableSpace returns the total free space in bytes, which may be
// fragmented across multiple segments.
func (p *Pool) AvailableSpace() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

// CanCommit reports whether the pool has enough total free space for a
// payload of the given size. Fragmentation may still require a compaction
// pass at commit time.
func (p *Pool) CanCommit(size int) bool {
	return p.AvailableSpace() >= size
}

// Size returns the fixed arena size in bytes.
func (p *Pool) Size() int {
	return p.size
}

// Stats returns a snapshot of the pool counters and occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	freeSegments := len(p.free)
	usedSegments := p.usedCount
	available := p.availableLocked()
	p.mu.Unlock()

	return Stats{
		Size:           p.size,
		FreeSegments:   freeSegments,
		UsedSegments:   usedSegments,
		AvailableSpace: available,
		Commits:        p.commits.Load(),
		FailedCommits:  p.failedCommits.Load(),
		Reads:          p.reads.Load(),
		ReadLocks:      p.readLocks.Load(),
		Releases:       p.releases.Load(),
		L1Compactions:  p.l1Compactions.Load(),
		L2Compactions:  p.l2Compactions.Load(),
	}
}

// findFreeSegment returns the index of the first free segment that can hold
// size bytes, or -1. Callers must hold the pool lock.
func (p *Pool) findFreeSegment(size int) int {
	for index, seg := range p.free {
		if seg.length >= size {
			return index
		}
	}
	return -1
}

// availableLocked sums the free segment lengths. Callers must hold the pool
// lock.
func (p *Pool) availableLocked() int {
	total := 0
	for _, seg := range p.free {
		total += seg.length
	}
	return total
}

// level1Compaction merges adjacent free segments in one linear pass over the
// sorted free list. It never moves bytes, so it is cheap relative to a full
// defragmentation. Callers must hold the pool lock.
func (p *Pool) level1Compaction() {
	p.l1Compactions.Add(1)
	if len(p.free) == 0 {
		return
	}

	sort.Slice(p.free, func(i, j int) bool {
		return p.free[i].start < p.free[j].start
	})

	merged := p.free[:1]
	for _, seg := range p.free[1:] {
		last := &merged[len(merged)-1]
		if last.start+last.length == seg.start {
			last.length += seg.length
		} else {
			merged = append(merged, seg)
		}
	}
	p.free = merged
}

// level2Compaction relocates every used segment toward the front of the arena
// in ascending start order, leaving a single free segment covering the tail.
// This is the expensive pass: it copies every used byte. The relocation
// generation is bumped before each copy so optimistic readers detect the
// move. Callers must hold the pool lock.
func (p *Pool) level2Compaction() {
	p.l2Compactions.Add(1)

	type usedEntry struct {
		handle Handle
		seg    segment
	}
	entries := make([]usedEntry, 0, p.usedCount)
	p.used.Range(func(key, value interface{}) bool {
		entries = append(entries, usedEntry{handle: key.(Handle), seg: value.(segment)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seg.start < entries[j].seg.start
	})

	offset := 0
	for _, entry := range entries {
		seg := entry.seg
		if seg.length == 0 {
			continue
		}
		if seg.start != offset {
			p.generation.Add(1)
			copy(p.arena[offset:offset+seg.length], p.arena[seg.start:seg.start+seg.length])
			p.used.Store(entry.handle, segment{start: offset, length: seg.length})
		}
		offset += seg.length
	}

	if offset < p.size {
		p.free = []segment{{start: offset, length: p.size - offset}}
	} else {
		p.free = nil
	}
}

func invalidHandle(h Handle) error {
	return errors.Newf(errors.ErrCodeInvalidHandle, "invalid handle %d", uint64(h)).WithComponent("pool")
}
