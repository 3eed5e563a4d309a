// Package bufferpool implements the fixed-frame page cache — spec §2
// component 2. Frames carry pin counts and dirty bits explicitly (ristretto
// has no notion of "never evict this"), while a ristretto/xxhash-backed
// frequency sketch breaks ties among unpinned LRU candidates the way a
// TinyLFU admission policy would, per SPEC_FULL.md §2.1.
package bufferpool

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"relcore/relerr"
	"relcore/storage/diskmgr"
	"relcore/storage/page"
)

// Pool is a fixed-capacity frame cache shared by the heap and index layers.
type Pool struct {
	mu       sync.Mutex
	capacity int
	frames   map[page.ID]*list.Element // page.ID -> LRU node
	lru      *list.List                // front = least recently used
	disk     *diskmgr.Manager
	freq     *ristretto.Cache[uint64, int64]
	log      *zap.Logger
}

type lruEntry struct {
	pg *page.Page
}

func New(capacity int, disk *diskmgr.Manager, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	freq, err := ristretto.NewCache(&ristretto.Config[uint64, int64]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity) * 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bufferpool: create frequency cache")
	}
	log.Info("buffer pool opened", zap.Int("capacity", capacity))
	return &Pool{
		capacity: capacity,
		frames:   make(map[page.ID]*list.Element, capacity),
		lru:      list.New(),
		disk:     disk,
		freq:     freq,
		log:      log,
	}, nil
}

func hashID(id page.ID) uint64 {
	var buf [8]byte
	buf[0] = byte(id.FileID)
	buf[1] = byte(id.FileID >> 8)
	buf[2] = byte(id.FileID >> 16)
	buf[3] = byte(id.FileID >> 24)
	buf[4] = byte(id.PageNo)
	buf[5] = byte(id.PageNo >> 8)
	buf[6] = byte(id.PageNo >> 16)
	buf[7] = byte(id.PageNo >> 24)
	return xxhash.Sum64(buf[:])
}

func (p *Pool) touch(id page.ID) {
	h := hashID(id)
	cur, _ := p.freq.Get(h)
	p.freq.Set(h, cur+1, 1)
}

func (p *Pool) frequency(id page.ID) int64 {
	v, ok := p.freq.Get(hashID(id))
	if !ok {
		return 0
	}
	return v
}

// Fetch returns the frame for id, pinning it. Loads from disk on a miss.
func (p *Pool) Fetch(id page.ID) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if el, ok := p.frames[id]; ok {
		p.lru.MoveToBack(el)
		pg := el.Value.(*lruEntry).pg
		pg.Lock()
		pg.PinCount++
		pg.Unlock()
		p.touch(id)
		return pg, nil
	}

	f, err := p.disk.Get(id.FileID)
	if err != nil {
		return nil, err
	}
	pg, err := f.ReadPage(id.PageNo)
	if err != nil {
		return nil, err
	}
	pg.PinCount = 1

	if err := p.addFrame(pg); err != nil {
		return nil, err
	}
	p.touch(id)
	return pg, nil
}

// NewPage allocates a fresh page number in fileID, zero-fills a frame, pins
// it, and marks it dirty (spec §4.1: new_page).
func (p *Pool) NewPage(fileID uint32) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := p.disk.Get(fileID)
	if err != nil {
		return nil, err
	}
	pageNo := f.AllocatePage()
	pg := page.New(page.ID{FileID: fileID, PageNo: pageNo})
	pg.PinCount = 1
	pg.Dirty = true

	if err := p.addFrame(pg); err != nil {
		return nil, err
	}
	p.touch(pg.ID)
	return pg, nil
}

// addFrame inserts pg into the frame table, evicting an unpinned frame first
// if at capacity. Caller holds p.mu.
func (p *Pool) addFrame(pg *page.Page) error {
	if len(p.frames) >= p.capacity {
		if err := p.evictLocked(); err != nil {
			return err
		}
	}
	el := p.lru.PushBack(&lruEntry{pg: pg})
	p.frames[pg.ID] = el
	return nil
}

// evictLocked scans up to a small window of least-recently-used unpinned
// frames and evicts the one with the lowest access frequency — an
// LRU-candidacy / LFU-tiebreak hybrid. Caller holds p.mu.
func (p *Pool) evictLocked() error {
	const window = 8

	var bestEl *list.Element
	var bestFreq int64 = -1
	checked := 0

	for el := p.lru.Front(); el != nil && checked < window; el = el.Next() {
		pg := el.Value.(*lruEntry).pg
		pg.Lock()
		pinned := pg.PinCount > 0
		pg.Unlock()
		if pinned {
			continue
		}
		checked++
		f := p.frequency(pg.ID)
		if bestEl == nil || f < bestFreq {
			bestEl, bestFreq = el, f
		}
	}

	if bestEl == nil {
		return errors.Wrap(relerr.ErrInternal, "bufferpool: all frames pinned, cannot evict")
	}

	victim := bestEl.Value.(*lruEntry).pg
	if victim.Dirty {
		if err := p.flushLocked(victim); err != nil {
			return err
		}
	}
	p.lru.Remove(bestEl)
	delete(p.frames, victim.ID)
	p.log.Debug("evicted frame",
		zap.Uint32("file_id", victim.ID.FileID),
		zap.Int32("page_no", victim.ID.PageNo),
		zap.Int64("frequency", bestFreq))
	return nil
}

// Unpin decrements the pin count for id and ORs in the dirty flag.
func (p *Pool) Unpin(id page.ID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.frames[id]
	if !ok {
		return errors.Wrapf(relerr.ErrPageNotExist, "unpin (%d,%d)", id.FileID, id.PageNo)
	}
	pg := el.Value.(*lruEntry).pg
	pg.Lock()
	defer pg.Unlock()
	if pg.PinCount > 0 {
		pg.PinCount--
	}
	if dirty {
		pg.Dirty = true
	}
	return nil
}

// DeletePage removes id from the pool. Requires pin count 0 (spec §4.1).
func (p *Pool) DeletePage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.frames[id]
	if !ok {
		return nil
	}
	pg := el.Value.(*lruEntry).pg
	pg.Lock()
	pinned := pg.PinCount > 0
	pg.Unlock()
	if pinned {
		return errors.Wrapf(relerr.ErrInternal, "delete_page: page (%d,%d) still pinned", id.FileID, id.PageNo)
	}
	p.lru.Remove(el)
	delete(p.frames, id)
	return nil
}

// FlushPage writes id back to disk if dirty.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.frames[id]
	if !ok {
		return errors.Wrapf(relerr.ErrPageNotExist, "flush (%d,%d)", id.FileID, id.PageNo)
	}
	return p.flushLocked(el.Value.(*lruEntry).pg)
}

func (p *Pool) flushLocked(pg *page.Page) error {
	pg.Lock()
	defer pg.Unlock()
	if !pg.Dirty {
		return nil
	}
	f, err := p.disk.Get(pg.ID.FileID)
	if err != nil {
		return err
	}
	if err := f.WritePage(pg); err != nil {
		return err
	}
	pg.Dirty = false
	return nil
}

// FlushAll writes every dirty frame back to disk — a write-through
// durability boundary (spec §4.1: flush_page, flush_all).
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.lru.Front(); el != nil; el = el.Next() {
		if err := p.flushLocked(el.Value.(*lruEntry).pg); err != nil {
			return err
		}
	}
	return nil
}

// PinCount reports the current pin count for id, used by tests that assert
// the net-pin-delta-zero property (spec §8).
func (p *Pool) PinCount(id page.ID) int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.frames[id]
	if !ok {
		return 0
	}
	pg := el.Value.(*lruEntry).pg
	pg.Lock()
	defer pg.Unlock()
	return pg.PinCount
}
