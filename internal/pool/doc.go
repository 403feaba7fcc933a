/*
Package pool implements a fixed-size shared memory arena with handle-based
access for query intermediates.

# Arena Layout

The arena is a single contiguous byte slice carved into segments. Every byte
belongs to exactly one segment, and a segment is either free or holds a
committed blob referenced by a handle:

	┌──────────┬──────────────┬──────┬───────────────────┬─────────┐
	│ used (h1)│    free      │ used │       free        │ used    │
	└──────────┴──────────────┴──────┴───────────────────┴─────────┘
	0                                                          size

Commit copies a blob into the first free segment that fits and returns an
opaque Handle. Read resolves a handle back to its bytes. Release returns the
segment to the free list. Handles are monotonically assigned and never reused,
so a stale handle fails loudly instead of aliasing another caller's data.

# Compaction

Fragmentation is repaired in two escalating passes, both triggered only when
a commit cannot find a fit:

Level 1 merges adjacent free segments. It moves no data and invalidates
nothing, so it is tried first.

Level 2 slides every used segment toward the front of the arena, leaving one
contiguous free region at the tail. Relocation moves bytes, so it is the pass
of last resort before the commit is rejected.

# Concurrency

Commit, Release, and the compaction passes serialize on the pool mutex. Read
is optimistic: it captures a generation stamp, resolves the segment without
the lock, and re-checks the stamp afterward. The stamp is bumped before every
level-2 relocation, so an unchanged stamp proves the bytes were stable for
the whole read. On a stamp mismatch the read retries under the lock.

# Usage

	p, err := pool.New(256 * 1024 * 1024)
	if err != nil {
		return err
	}

	handle, ok := p.Commit(blob)
	if !ok {
		// Arena is full even after compaction; evict or spill.
	}

	data, err := p.Read(handle)
	...
	p.Release(handle)

Read returns a view into the arena; the caller must not retain it across a
Release or another commit. ReadBytes returns a stable copy when the caller
needs to hold the data.
*/
package pool
