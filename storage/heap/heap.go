// Package heap implements the paged heap file — spec §2 component 3, the
// Record Manager. Page 0 of every heap file is a header page; every
// following page is a slotted data page holding fixed-width rows behind a
// presence bitmap, threaded onto a singly-linked free list.
package heap

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/storage/bufferpool"
	"relcore/storage/page"
	"relcore/types"
)

// Header page 0 layout (spec §4.2):
//
//	offset 0:  int32 record_size
//	offset 4:  int32 records_per_page
//	offset 8:  int32 num_pages          (data pages, excludes header)
//	offset 12: int32 first_free_page_no (-1 if none)
const (
	hdrRecordSize      = 0
	hdrRecordsPerPage  = 4
	hdrNumPages        = 8
	hdrFirstFreePageNo = 12
)

// Data page layout:
//
//	offset 0: int32 next_free_page_no (-1 if not on the free list)
//	offset 4: int32 num_records
//	offset 8: bitmap, ceil(records_per_page/8) bytes
//	then:     records_per_page * record_size bytes, fixed-width slots
const (
	dpNextFreePageNo = 0
	dpNumRecords     = 4
	dpBitmapOffset   = 8
)

// Heap is a paged heap file bound to one open disk file, with fixed row
// width derived from schema.
type Heap struct {
	pool   *bufferpool.Pool
	fileID uint32
	schema types.Schema

	recordSize     int32
	recordsPerPage int32
	bitmapBytes    int32
}

// Create initializes a brand-new heap file's header page (page 0). Call once
// per file, before any Open.
func Create(pool *bufferpool.Pool, fileID uint32, schema types.Schema) (*Heap, error) {
	h, err := newHeap(pool, fileID, schema)
	if err != nil {
		return nil, err
	}

	hp, err := pool.NewPage(fileID) // must land on page 0
	if err != nil {
		return nil, err
	}
	if hp.ID.PageNo != 0 {
		return nil, errors.Wrap(relerr.ErrInternal, "heap: header page must be page 0")
	}
	binary.LittleEndian.PutUint32(hp.Data[hdrRecordSize:], uint32(h.recordSize))
	binary.LittleEndian.PutUint32(hp.Data[hdrRecordsPerPage:], uint32(h.recordsPerPage))
	binary.LittleEndian.PutUint32(hp.Data[hdrNumPages:], 0)
	putInt32(hp.Data[hdrFirstFreePageNo:], -1)
	return h, pool.Unpin(hp.ID, true)
}

// Open binds a Heap to an already-initialized file's existing header page.
func Open(pool *bufferpool.Pool, fileID uint32, schema types.Schema) (*Heap, error) {
	h, err := newHeap(pool, fileID, schema)
	if err != nil {
		return nil, err
	}
	hp, err := pool.Fetch(page.ID{FileID: fileID, PageNo: 0})
	if err != nil {
		return nil, err
	}
	onDiskSize := int32(binary.LittleEndian.Uint32(hp.Data[hdrRecordSize:]))
	pool.Unpin(hp.ID, false)
	if onDiskSize != h.recordSize {
		return nil, errors.Wrapf(relerr.ErrInternal, "heap: schema row width %d does not match on-disk record size %d", h.recordSize, onDiskSize)
	}
	return h, nil
}

func newHeap(pool *bufferpool.Pool, fileID uint32, schema types.Schema) (*Heap, error) {
	recordSize := int32(schema.RowWidth())
	if recordSize <= 0 {
		return nil, errors.Wrap(relerr.ErrInternal, "heap: schema has zero row width")
	}
	// records_per_page solves: 8 + ceil(n/8) + n*recordSize <= page.Size
	usable := int32(page.Size - dpBitmapOffset)
	n := (usable * 8) / (8*recordSize + 1)
	for bitmapBytesFor(n)+n*recordSize > usable {
		n--
	}
	if n <= 0 {
		return nil, errors.Wrap(relerr.ErrInternal, "heap: record too large to fit any page")
	}
	return &Heap{
		pool:           pool,
		fileID:         fileID,
		schema:         schema,
		recordSize:     recordSize,
		recordsPerPage: n,
		bitmapBytes:    bitmapBytesFor(n),
	}, nil
}

func bitmapBytesFor(n int32) int32 { return (n + 7) / 8 }

func (h *Heap) slotOffset(slot int32) int32 {
	return dpBitmapOffset + h.bitmapBytes + slot*h.recordSize
}

func putInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func getInt32(b []byte) int32    { return int32(binary.LittleEndian.Uint32(b)) }

func (h *Heap) bitGet(data []byte, slot int32) bool {
	byteIdx := dpBitmapOffset + slot/8
	return data[byteIdx]&(1<<uint(slot%8)) != 0
}

func (h *Heap) bitSet(data []byte, slot int32, v bool) {
	byteIdx := dpBitmapOffset + slot/8
	mask := byte(1 << uint(slot%8))
	if v {
		data[byteIdx] |= mask
	} else {
		data[byteIdx] &^= mask
	}
}

func (h *Heap) popcount(data []byte) int32 {
	var c int32
	for i := int32(0); i < h.bitmapBytes; i++ {
		c += int32(popcountByte(data[dpBitmapOffset+i]))
	}
	return c
}

func popcountByte(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

func (h *Heap) fetchHeader() (*page.Page, error) {
	return h.pool.Fetch(page.ID{FileID: h.fileID, PageNo: 0})
}

func (h *Heap) fetchData(pageNo int32) (*page.Page, error) {
	return h.pool.Fetch(page.ID{FileID: h.fileID, PageNo: pageNo})
}

// initDataPage zero-formats a freshly allocated data page: empty bitmap, no
// records, not (yet) on the free list.
func (h *Heap) initDataPage(pg *page.Page) {
	for i := range pg.Data {
		pg.Data[i] = 0
	}
	putInt32(pg.Data[dpNextFreePageNo:], -1)
	putInt32(pg.Data[dpNumRecords:], 0)
}

// Insert places row into the first free slot on the free-list head page,
// allocating a new page if the free list is empty, per spec §4.2 steps (a)-(d).
func (h *Heap) Insert(row types.Tuple) (types.Rid, error) {
	buf, err := types.EncodeTuple(h.schema, row.Values)
	if err != nil {
		return types.NilRid, err
	}

	hp, err := h.fetchHeader()
	if err != nil {
		return types.NilRid, err
	}
	firstFree := getInt32(hp.Data[hdrFirstFreePageNo:])

	var dp *page.Page
	if firstFree == -1 {
		dp, err = h.pool.NewPage(h.fileID)
		if err != nil {
			h.pool.Unpin(hp.ID, false)
			return types.NilRid, err
		}
		h.initDataPage(dp)
		putInt32(hp.Data[hdrNumPages:], getInt32(hp.Data[hdrNumPages:])+1)
		putInt32(hp.Data[hdrFirstFreePageNo:], dp.ID.PageNo)
		putInt32(dp.Data[dpNextFreePageNo:], -1)
	} else {
		dp, err = h.fetchData(firstFree)
		if err != nil {
			h.pool.Unpin(hp.ID, false)
			return types.NilRid, err
		}
	}

	slot := h.firstZeroBit(dp.Data)
	if slot < 0 {
		h.pool.Unpin(dp.ID, false)
		h.pool.Unpin(hp.ID, false)
		return types.NilRid, errors.Wrap(relerr.ErrInternal, "heap: free-list page reports no room (I-H invariant violated)")
	}

	off := h.slotOffset(slot)
	copy(dp.Data[off:off+h.recordSize], buf)
	h.bitSet(dp.Data, slot, true)
	putInt32(dp.Data[dpNumRecords:], getInt32(dp.Data[dpNumRecords:])+1)

	full := h.popcount(dp.Data) == h.recordsPerPage
	if full {
		// I-H1: pop this page off the free list, preserving order of the rest.
		next := getInt32(dp.Data[dpNextFreePageNo:])
		putInt32(hp.Data[hdrFirstFreePageNo:], next)
		putInt32(dp.Data[dpNextFreePageNo:], -1)
	}

	if err := h.pool.Unpin(dp.ID, true); err != nil {
		return types.NilRid, err
	}
	if err := h.pool.Unpin(hp.ID, true); err != nil {
		return types.NilRid, err
	}
	return types.Rid{PageNo: dp.ID.PageNo, SlotNo: slot}, nil
}

func (h *Heap) firstZeroBit(data []byte) int32 {
	for slot := int32(0); slot < h.recordsPerPage; slot++ {
		if !h.bitGet(data, slot) {
			return slot
		}
	}
	return -1
}

// InsertAt re-inserts row at an exact, previously-issued Rid — used by
// transaction abort to undo a Delete. The target page must already exist and
// the slot must currently be empty.
func (h *Heap) InsertAt(rid types.Rid, row types.Tuple) error {
	buf, err := types.EncodeTuple(h.schema, row.Values)
	if err != nil {
		return err
	}
	dp, err := h.fetchData(rid.PageNo)
	if err != nil {
		return err
	}
	if h.bitGet(dp.Data, rid.SlotNo) {
		h.pool.Unpin(dp.ID, false)
		return errors.Wrapf(relerr.ErrInternal, "heap: InsertAt slot (%d,%d) already occupied", rid.PageNo, rid.SlotNo)
	}
	off := h.slotOffset(rid.SlotNo)
	copy(dp.Data[off:off+h.recordSize], buf)
	h.bitSet(dp.Data, rid.SlotNo, true)
	putInt32(dp.Data[dpNumRecords:], getInt32(dp.Data[dpNumRecords:])+1)

	nowFull := h.popcount(dp.Data) == h.recordsPerPage
	if nowFull {
		// I-H1: this page just filled, unlink it from the free list like Insert does.
		next := getInt32(dp.Data[dpNextFreePageNo:])
		if err := h.unlinkFreeList(rid.PageNo, next); err != nil {
			h.pool.Unpin(dp.ID, false)
			return err
		}
		putInt32(dp.Data[dpNextFreePageNo:], -1)
	}

	return h.pool.Unpin(dp.ID, true)
}

// unlinkFreeList removes pageNo from the free list, given the successor it
// currently points to, preserving the order of the remaining pages.
func (h *Heap) unlinkFreeList(pageNo, next int32) error {
	hp, err := h.fetchHeader()
	if err != nil {
		return err
	}
	defer h.pool.Unpin(hp.ID, true)

	head := getInt32(hp.Data[hdrFirstFreePageNo:])
	if head == pageNo {
		putInt32(hp.Data[hdrFirstFreePageNo:], next)
		return nil
	}

	prevNo := head
	for prevNo != -1 {
		prev, err := h.fetchData(prevNo)
		if err != nil {
			return err
		}
		prevNext := getInt32(prev.Data[dpNextFreePageNo:])
		if prevNext == pageNo {
			putInt32(prev.Data[dpNextFreePageNo:], next)
			return h.pool.Unpin(prev.ID, true)
		}
		if err := h.pool.Unpin(prev.ID, false); err != nil {
			return err
		}
		prevNo = prevNext
	}
	return errors.Wrapf(relerr.ErrInternal, "heap: page %d not found on free list during unlink", pageNo)
}

// Get reads the row at rid.
func (h *Heap) Get(rid types.Rid) (types.Tuple, error) {
	dp, err := h.fetchData(rid.PageNo)
	if err != nil {
		return types.Tuple{}, err
	}
	defer h.pool.Unpin(dp.ID, false)
	if !h.bitGet(dp.Data, rid.SlotNo) {
		return types.Tuple{}, errors.Wrapf(relerr.ErrInternal, "heap: slot (%d,%d) is empty", rid.PageNo, rid.SlotNo)
	}
	off := h.slotOffset(rid.SlotNo)
	return types.DecodeTuple(h.schema, dp.Data[off:off+h.recordSize])
}

// Update overwrites the row at rid in place, preserving the slot.
func (h *Heap) Update(rid types.Rid, row types.Tuple) error {
	buf, err := types.EncodeTuple(h.schema, row.Values)
	if err != nil {
		return err
	}
	dp, err := h.fetchData(rid.PageNo)
	if err != nil {
		return err
	}
	if !h.bitGet(dp.Data, rid.SlotNo) {
		h.pool.Unpin(dp.ID, false)
		return errors.Wrapf(relerr.ErrInternal, "heap: update on empty slot (%d,%d)", rid.PageNo, rid.SlotNo)
	}
	off := h.slotOffset(rid.SlotNo)
	copy(dp.Data[off:off+h.recordSize], buf)
	return h.pool.Unpin(dp.ID, true)
}

// Delete clears the slot at rid and rejoins the page to the free list in
// ascending page-number order if the page was previously full (spec §4.2,
// invariant I-H1).
func (h *Heap) Delete(rid types.Rid) (types.Tuple, error) {
	dp, err := h.fetchData(rid.PageNo)
	if err != nil {
		return types.Tuple{}, err
	}
	if !h.bitGet(dp.Data, rid.SlotNo) {
		h.pool.Unpin(dp.ID, false)
		return types.Tuple{}, errors.Wrapf(relerr.ErrInternal, "heap: delete on empty slot (%d,%d)", rid.PageNo, rid.SlotNo)
	}
	off := h.slotOffset(rid.SlotNo)
	before, err := types.DecodeTuple(h.schema, dp.Data[off:off+h.recordSize])
	if err != nil {
		h.pool.Unpin(dp.ID, false)
		return types.Tuple{}, err
	}
	wasFull := h.popcount(dp.Data) == h.recordsPerPage

	h.bitSet(dp.Data, rid.SlotNo, false)
	putInt32(dp.Data[dpNumRecords:], getInt32(dp.Data[dpNumRecords:])-1)

	if err := h.pool.Unpin(dp.ID, true); err != nil {
		return types.Tuple{}, err
	}
	if wasFull {
		if err := h.pushFreeList(rid.PageNo); err != nil {
			return types.Tuple{}, err
		}
	}
	return before, nil
}

// pushFreeList reinserts pageNo into the header's free list in ascending
// page-number order, per invariant I-H1.
func (h *Heap) pushFreeList(pageNo int32) error {
	hp, err := h.fetchHeader()
	if err != nil {
		return err
	}
	defer h.pool.Unpin(hp.ID, true)

	head := getInt32(hp.Data[hdrFirstFreePageNo:])
	if head == -1 || pageNo < head {
		dp, err := h.fetchData(pageNo)
		if err != nil {
			return err
		}
		putInt32(dp.Data[dpNextFreePageNo:], head)
		putInt32(hp.Data[hdrFirstFreePageNo:], pageNo)
		return h.pool.Unpin(dp.ID, true)
	}

	// Walk to find the ascending insertion point.
	prevNo := head
	for {
		prev, err := h.fetchData(prevNo)
		if err != nil {
			return err
		}
		next := getInt32(prev.Data[dpNextFreePageNo:])
		if next == -1 || pageNo < next {
			putInt32(prev.Data[dpNextFreePageNo:], pageNo)
			if err := h.pool.Unpin(prev.ID, true); err != nil {
				return err
			}
			dp, err := h.fetchData(pageNo)
			if err != nil {
				return err
			}
			putInt32(dp.Data[dpNextFreePageNo:], next)
			return h.pool.Unpin(dp.ID, true)
		}
		if err := h.pool.Unpin(prev.ID, false); err != nil {
			return err
		}
		prevNo = next
	}
}

// Cursor is a forward-only scan over every occupied slot in page/slot order.
type Cursor struct {
	h    *Heap
	rid  types.Rid
	done bool
}

// Scan opens a fresh forward cursor positioned before the first record.
func (h *Heap) Scan() *Cursor {
	return &Cursor{h: h, rid: types.Rid{PageNo: 1, SlotNo: -1}}
}

// Next advances to the next occupied slot and returns its Rid and row, or
// (NilRid, _, false) at end of file — the Rid(-1,-1) sentinel from spec §4.2.
func (c *Cursor) Next() (types.Rid, types.Tuple, bool, error) {
	if c.done {
		return types.NilRid, types.Tuple{}, false, nil
	}
	h := c.h

	hp, err := h.fetchHeader()
	if err != nil {
		return types.NilRid, types.Tuple{}, false, err
	}
	numPages := getInt32(hp.Data[hdrNumPages:])
	h.pool.Unpin(hp.ID, false)

	pageNo := c.rid.PageNo
	slot := c.rid.SlotNo + 1

	for pageNo <= numPages {
		dp, err := h.fetchData(pageNo)
		if err != nil {
			return types.NilRid, types.Tuple{}, false, err
		}
		for ; slot < h.recordsPerPage; slot++ {
			if h.bitGet(dp.Data, slot) {
				off := h.slotOffset(slot)
				row, err := types.DecodeTuple(h.schema, dp.Data[off:off+h.recordSize])
				h.pool.Unpin(dp.ID, false)
				if err != nil {
					return types.NilRid, types.Tuple{}, false, err
				}
				c.rid = types.Rid{PageNo: pageNo, SlotNo: slot}
				return c.rid, row, true, nil
			}
		}
		h.pool.Unpin(dp.ID, false)
		pageNo++
		slot = 0
	}
	c.done = true
	c.rid = types.NilRid
	return types.NilRid, types.Tuple{}, false, nil
}

// RecordsPerPage exposes the computed page capacity (the heap tests use it to
// fill exactly one page).
func (h *Heap) RecordsPerPage() int32 { return h.recordsPerPage }
