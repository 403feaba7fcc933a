package pool

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelql/petrel/pkg/errors"
)

// checkInvariants verifies that the free and used segments partition the
// arena: no overlaps, no gaps, lengths summing to the arena size.
func checkInvariants(t *testing.T, p *Pool) {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	all := make([]segment, 0, len(p.free)+p.usedCount)
	all = append(all, p.free...)
	p.used.Range(func(_, value interface{}) bool {
		seg := value.(segment)
		if seg.length > 0 {
			all = append(all, seg)
		}
		return true
	})

	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })

	offset := 0
	for _, seg := range all {
		require.Equal(t, offset, seg.start, "segments must tile the arena without gaps or overlaps")
		require.Greater(t, seg.length, 0)
		offset += seg.length
	}
	require.Equal(t, p.size, offset, "segment lengths must sum to the arena size")
}

func mustCommit(t *testing.T, p *Pool, data []byte) Handle {
	t.Helper()
	h, ok := p.Commit(data)
	require.True(t, ok, "commit of %d bytes should succeed", len(data))
	return h
}

func payload(size int, fill byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}
	return data
}

func TestNew(t *testing.T) {
	t.Run("rejects non-positive size", func(t *testing.T) {
		for _, size := range []int{0, -1} {
			_, err := New(size)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodePoolSize))
		}
	})

	t.Run("starts with one free segment covering the arena", func(t *testing.T) {
		p, err := New(100)
		require.NoError(t, err)
		assert.Equal(t, 100, p.AvailableSpace())
		assert.Equal(t, 100, p.Size())
		checkInvariants(t, p)
	})
}

func TestCommitReadRelease(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	data := []byte("the quick brown fox")
	h := mustCommit(t, p, data)

	got, err := p.Read(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The commit stored a copy; mutating the input must not reach the arena.
	data[0] = 'X'
	got, err = p.Read(h)
	require.NoError(t, err)
	assert.Equal(t, byte('t'), got[0])

	require.NoError(t, p.Release(h))
	checkInvariants(t, p)

	_, err = p.Read(h)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidHandle))
}

func TestInvalidHandles(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	_, readErr := p.Read(Handle(42))
	assert.True(t, errors.HasCode(readErr, errors.ErrCodeInvalidHandle))

	_, readErr = p.ReadBytes(Handle(42))
	assert.True(t, errors.HasCode(readErr, errors.ErrCodeInvalidHandle))

	assert.True(t, errors.HasCode(p.Release(Handle(42)), errors.ErrCodeInvalidHandle))

	// Double release must fail, not corrupt the free list.
	h := mustCommit(t, p, []byte("abc"))
	require.NoError(t, p.Release(h))
	assert.True(t, errors.HasCode(p.Release(h), errors.ErrCodeInvalidHandle))
	checkInvariants(t, p)
}

func TestZeroLengthCommit(t *testing.T) {
	p, err := New(10)
	require.NoError(t, err)

	h := mustCommit(t, p, nil)
	got, err := p.Read(h)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 10, p.AvailableSpace(), "zero-byte payloads consume no arena space")

	require.NoError(t, p.Release(h))
	assert.Equal(t, 10, p.AvailableSpace())
	checkInvariants(t, p)
}

func TestCommitFailsWhenFreeBelowRequest(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	mustCommit(t, p, payload(60, 'a'))

	_, ok := p.Commit(payload(60, 'b'))
	assert.False(t, ok, "only 40 bytes free, no compaction can help")

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.FailedCommits)
	assert.Equal(t, int64(0), stats.L1Compactions, "compaction must not be attempted")
	assert.Equal(t, int64(0), stats.L2Compactions)
	checkInvariants(t, p)
}

func TestFirstFitReusesReleasedSegment(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	a := mustCommit(t, p, payload(40, 'a'))
	b := mustCommit(t, p, payload(40, 'b'))
	require.NoError(t, p.Release(a))

	c := mustCommit(t, p, payload(30, 'c'))

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.L1Compactions, "first-fit should find the freed segment directly")
	assert.Equal(t, int64(0), stats.L2Compactions)

	gotB, err := p.Read(b)
	require.NoError(t, err)
	assert.Equal(t, payload(40, 'b'), gotB)
	gotC, err := p.Read(c)
	require.NoError(t, err)
	assert.Equal(t, payload(30, 'c'), gotC)
	checkInvariants(t, p)
}

func TestLevel1CompactionMergesAdjacentHoles(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	a := mustCommit(t, p, payload(20, 'a'))
	b := mustCommit(t, p, payload(20, 'b'))
	c := mustCommit(t, p, payload(20, 'c'))
	d := mustCommit(t, p, payload(20, 'd'))

	// Adjacent holes at [20,40) and [40,60), plus the tail at [80,100).
	require.NoError(t, p.Release(b))
	require.NoError(t, p.Release(c))

	e := mustCommit(t, p, payload(40, 'e'))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.L1Compactions)
	assert.Equal(t, int64(0), stats.L2Compactions, "merging adjacent holes must be enough")

	for handle, want := range map[Handle][]byte{
		a: payload(20, 'a'),
		d: payload(20, 'd'),
		e: payload(40, 'e'),
	} {
		got, err := p.Read(handle)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	checkInvariants(t, p)
}

func TestLevel2CompactionDefragments(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	a := mustCommit(t, p, payload(30, 'a'))
	b := mustCommit(t, p, payload(30, 'b'))
	c := mustCommit(t, p, payload(30, 'c'))

	// Holes at [30,60) and [90,100): not adjacent, so a level-1 merge
	// cannot produce the 35 contiguous bytes the next commit needs.
	require.NoError(t, p.Release(b))

	d := mustCommit(t, p, payload(35, 'd'))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.L1Compactions)
	assert.Equal(t, int64(1), stats.L2Compactions, "full defragmentation must run")

	for handle, want := range map[Handle][]byte{
		a: payload(30, 'a'),
		c: payload(30, 'c'),
		d: payload(35, 'd'),
	} {
		got, err := p.Read(handle)
		require.NoError(t, err)
		assert.Equal(t, want, got, "relocation must preserve content")
	}
	checkInvariants(t, p)
}

func TestCompactionPreservesContent(t *testing.T) {
	p, err := New(1000)
	require.NoError(t, err)

	// Interleave commits and releases to fragment the arena.
	handles := make(map[Handle][]byte)
	var victims []Handle
	for i := 0; i < 10; i++ {
		data := payload(95, byte('a'+i))
		h := mustCommit(t, p, data)
		if i%2 == 1 {
			victims = append(victims, h)
		} else {
			handles[h] = data
		}
	}
	for _, h := range victims {
		require.NoError(t, p.Release(h))
	}

	before := make(map[Handle][]byte)
	for h := range handles {
		got, err := p.ReadBytes(h)
		require.NoError(t, err)
		before[h] = got
	}

	// 525 bytes free, fragmented into 95-byte holes and a 50-byte tail;
	// this commit can only be satisfied by relocating everything.
	big := mustCommit(t, p, payload(400, 'z'))
	require.Equal(t, int64(1), p.Stats().L2Compactions)

	for h, want := range before {
		got, err := p.Read(h)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	gotBig, err := p.Read(big)
	require.NoError(t, err)
	assert.Equal(t, payload(400, 'z'), gotBig)
	checkInvariants(t, p)
}

func TestNoSpaceMonotonicity(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	mustCommit(t, p, payload(90, 'a'))

	_, ok := p.Commit(payload(20, 'b'))
	require.False(t, ok)

	// Without a release, the same or a larger request keeps failing.
	for _, size := range []int{20, 21, 50} {
		_, ok := p.Commit(payload(size, 'c'))
		assert.False(t, ok)
	}
	checkInvariants(t, p)
}

func TestReadRelease(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	data := []byte("read once, free once")
	h := mustCommit(t, p, data)

	got, err := p.ReadRelease(h)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = p.Read(h)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidHandle))
	assert.Equal(t, 100, p.AvailableSpace())
	checkInvariants(t, p)
}

func TestOptimisticReadRelocation(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	a := mustCommit(t, p, payload(30, 'a'))
	b := mustCommit(t, p, payload(30, 'b'))
	c := mustCommit(t, p, payload(30, 'c'))
	require.NoError(t, p.Release(b))

	genBefore := p.generation.Load()
	mustCommit(t, p, payload(35, 'd'))
	assert.Greater(t, p.generation.Load(), genBefore,
		"level-2 relocation must bump the generation stamp")

	// Handles survive relocation; only arena offsets changed.
	gotA, err := p.Read(a)
	require.NoError(t, err)
	assert.Equal(t, payload(30, 'a'), gotA)
	gotC, err := p.Read(c)
	require.NoError(t, err)
	assert.Equal(t, payload(30, 'c'), gotC)
}

func TestHandlesAreNeverReused(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	seen := make(map[Handle]bool)
	for i := 0; i < 50; i++ {
		h := mustCommit(t, p, payload(10, byte(i)))
		require.False(t, seen[h], "handle %d reused", h)
		seen[h] = true
		require.NoError(t, p.Release(h))
	}
}

func TestStatsCounters(t *testing.T) {
	p, err := New(100)
	require.NoError(t, err)

	h := mustCommit(t, p, []byte("xyz"))
	_, _ = p.Read(h)
	_, _ = p.Read(h)
	require.NoError(t, p.Release(h))
	_, _ = p.Commit(payload(200, 'q'))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Commits)
	assert.Equal(t, int64(1), stats.FailedCommits)
	assert.Equal(t, int64(2), stats.Reads)
	assert.Equal(t, int64(1), stats.Releases)
	assert.Equal(t, 100, stats.AvailableSpace)
	assert.Equal(t, 0, stats.UsedSegments)
}

func TestConservationUnderRandomOperations(t *testing.T) {
	p, err := New(1 << 12)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	live := make(map[Handle][]byte)

	for i := 0; i < 2000; i++ {
		if rng.Intn(3) > 0 || len(live) == 0 {
			size := rng.Intn(200) + 1
			data := payload(size, byte(rng.Intn(256)))
			if h, ok := p.Commit(data); ok {
				live[h] = data
			}
		} else {
			for h, want := range live {
				got, err := p.ReadBytes(h)
				require.NoError(t, err)
				require.True(t, bytes.Equal(want, got))
				require.NoError(t, p.Release(h))
				delete(live, h)
				break
			}
		}

		if i%100 == 0 {
			checkInvariants(t, p)
		}
	}
	checkInvariants(t, p)
}

func TestConcurrentCommitReadRelease(t *testing.T) {
	p, err := New(1 << 14)
	require.NoError(t, err)

	const workers = 8
	const iterations = 300

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < iterations; i++ {
				data := payload(rng.Intn(128)+1, byte(seed))
				h, ok := p.Commit(data)
				if !ok {
					continue
				}
				got, err := p.ReadBytes(h)
				if err != nil || !bytes.Equal(data, got) {
					t.Errorf("worker %d: read mismatch", seed)
					return
				}
				if err := p.Release(h); err != nil {
					t.Errorf("worker %d: release: %v", seed, err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()

	checkInvariants(t, p)
	stats := p.Stats()
	assert.Equal(t, stats.Commits, stats.Releases, "every successful commit was released")
	assert.Equal(t, 1<<14, stats.AvailableSpace)
}
