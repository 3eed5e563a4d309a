// Package index implements a disk-resident B+-tree over fixed-width
// composite keys — spec §2 component 4, the Index Manager. The whole tree is
// guarded by a single exclusive latch (spec §5: "a single exclusive tree
// latch"), so node access here never needs the fine-grained pin choreography
// the heap and buffer pool use internally.
package index

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/storage/bufferpool"
	"relcore/storage/page"
	"relcore/types"
)

// Header page 0 layout:
//
//	offset 0:  int32 root_page
//	offset 4:  int32 first_leaf
//	offset 8:  int32 last_leaf
//	offset 12: int32 key_total_len
//	offset 16: int32 num_pages
//	offset 20: int32 num_columns
//	offset 24: [num_columns]{int32 kind; int32 len}  column_types/column_lens
const (
	hdrRootPage    = 0
	hdrFirstLeaf   = 4
	hdrLastLeaf    = 8
	hdrKeyTotalLen = 12
	hdrNumPages    = 16
	hdrNumColumns  = 20
	hdrColumnArea  = 24
)

// Node page layout (shared by leaf and internal nodes):
//
//	offset 0:  int32 is_leaf   (1 or 0)
//	offset 4:  int32 num_keys
//	offset 8:  int32 parent    (-1 for root)
//	offset 12: int32 prev_leaf (-1 if not a leaf, or no left sibling)
//	offset 16: int32 next_leaf (-1 if not a leaf, or no right sibling)
//	offset 20: keys[maxKeys * keyLen]
//	then:      child_rids[maxKeys * 8]
//
// Leaves and internal nodes share the exact same shape: one child_rids slot
// per key, never one more. For a leaf, child_rids[i] is the heap Rid of the
// tuple under keys[i]. For an internal node, child_rids[i].PageNo is the
// subtree root under keys[i] and keys[i] == min_key(subtree(child_rids[i]))
// (invariant I-B4) — every child, including the leftmost, is paired with its
// own governing key, so there is no separator-vs-child off-by-one to track.
const (
	nodeIsLeaf   = 0
	nodeNumKeys  = 4
	nodeParent   = 8
	nodePrevLeaf = 12
	nodeNextLeaf = 16
	nodeKeysArea = 20
)

// Index is a B+-tree bound to one open index file.
type Index struct {
	mu     sync.Mutex
	pool   *bufferpool.Pool
	fileID uint32
	schema types.Schema // the composite key's column schema

	keyLen  int32
	maxKeys int32
}

// Create initializes a brand-new, empty index file: header page 0 plus a
// single empty root leaf.
func Create(pool *bufferpool.Pool, fileID uint32, keySchema types.Schema) (*Index, error) {
	idx, err := newIndex(pool, fileID, keySchema)
	if err != nil {
		return nil, err
	}

	hp, err := pool.NewPage(fileID) // page 0
	if err != nil {
		return nil, err
	}
	if hp.ID.PageNo != 0 {
		return nil, errors.Wrap(relerr.ErrInternal, "index: header page must be page 0")
	}

	root, err := pool.NewPage(fileID) // page 1: initial empty root leaf
	if err != nil {
		pool.Unpin(hp.ID, false)
		return nil, err
	}
	idx.formatNode(root, true, -1)

	putInt32(hp.Data[hdrRootPage:], root.ID.PageNo)
	putInt32(hp.Data[hdrFirstLeaf:], root.ID.PageNo)
	putInt32(hp.Data[hdrLastLeaf:], root.ID.PageNo)
	putInt32(hp.Data[hdrKeyTotalLen:], idx.keyLen)
	putInt32(hp.Data[hdrNumPages:], 1)
	putInt32(hp.Data[hdrNumColumns:], int32(len(keySchema.Columns)))
	off := hdrColumnArea
	for _, c := range keySchema.Columns {
		putInt32(hp.Data[off:], int32(c.Kind))
		putInt32(hp.Data[off+4:], int32(c.Len))
		off += 8
	}

	if err := pool.Unpin(root.ID, true); err != nil {
		return nil, err
	}
	return idx, pool.Unpin(hp.ID, true)
}

// Open binds an Index to an already-initialized file's existing header page.
func Open(pool *bufferpool.Pool, fileID uint32, keySchema types.Schema) (*Index, error) {
	idx, err := newIndex(pool, fileID, keySchema)
	if err != nil {
		return nil, err
	}
	hp, err := pool.Fetch(page.ID{FileID: fileID, PageNo: 0})
	if err != nil {
		return nil, err
	}
	onDisk := getInt32(hp.Data[hdrKeyTotalLen:])
	pool.Unpin(hp.ID, false)
	if onDisk != idx.keyLen {
		return nil, errors.Wrapf(relerr.ErrInternal, "index: schema key width %d does not match on-disk width %d", idx.keyLen, onDisk)
	}
	return idx, nil
}

func newIndex(pool *bufferpool.Pool, fileID uint32, keySchema types.Schema) (*Index, error) {
	keyLen := int32(keySchema.RowWidth())
	if keyLen <= 0 {
		return nil, errors.Wrap(relerr.ErrInternal, "index: key schema has zero width")
	}
	budget := int32(page.Size - nodeKeysArea)
	maxKeys := budget / (keyLen + 8)
	if maxKeys < 3 {
		return nil, errors.Wrap(relerr.ErrInternal, "index: key too wide to fit a usable node order")
	}
	return &Index{
		pool:    pool,
		fileID:  fileID,
		schema:  keySchema,
		keyLen:  keyLen,
		maxKeys: maxKeys,
	}, nil
}

func putInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }
func getInt32(b []byte) int32    { return int32(binary.LittleEndian.Uint32(b)) }

// --- node field accessors -------------------------------------------------

func (idx *Index) formatNode(pg *page.Page, isLeaf bool, parent int32) {
	for i := range pg.Data {
		pg.Data[i] = 0
	}
	if isLeaf {
		putInt32(pg.Data[nodeIsLeaf:], 1)
	}
	putInt32(pg.Data[nodeNumKeys:], 0)
	putInt32(pg.Data[nodeParent:], parent)
	putInt32(pg.Data[nodePrevLeaf:], -1)
	putInt32(pg.Data[nodeNextLeaf:], -1)
}

func isLeafNode(pg *page.Page) bool  { return getInt32(pg.Data[nodeIsLeaf:]) == 1 }
func numKeys(pg *page.Page) int32    { return getInt32(pg.Data[nodeNumKeys:]) }
func setNumKeys(pg *page.Page, n int32) { putInt32(pg.Data[nodeNumKeys:], n) }
func parentOf(pg *page.Page) int32   { return getInt32(pg.Data[nodeParent:]) }
func setParent(pg *page.Page, p int32) { putInt32(pg.Data[nodeParent:], p) }
func prevLeaf(pg *page.Page) int32   { return getInt32(pg.Data[nodePrevLeaf:]) }
func setPrevLeaf(pg *page.Page, p int32) { putInt32(pg.Data[nodePrevLeaf:], p) }
func nextLeaf(pg *page.Page) int32   { return getInt32(pg.Data[nodeNextLeaf:]) }
func setNextLeaf(pg *page.Page, p int32) { putInt32(pg.Data[nodeNextLeaf:], p) }

func (idx *Index) keyAt(pg *page.Page, i int32) []byte {
	off := nodeKeysArea + i*idx.keyLen
	return pg.Data[off : off+idx.keyLen]
}

func (idx *Index) setKeyAt(pg *page.Page, i int32, key []byte) {
	off := nodeKeysArea + i*idx.keyLen
	copy(pg.Data[off:off+idx.keyLen], key)
}

func (idx *Index) ridsOffset() int32 { return nodeKeysArea + idx.maxKeys*idx.keyLen }

func (idx *Index) ridAt(pg *page.Page, i int32) types.Rid {
	off := idx.ridsOffset() + i*8
	return types.Rid{PageNo: getInt32(pg.Data[off:]), SlotNo: getInt32(pg.Data[off+4:])}
}

func (idx *Index) setRidAt(pg *page.Page, i int32, rid types.Rid) {
	off := idx.ridsOffset() + i*8
	putInt32(pg.Data[off:], rid.PageNo)
	putInt32(pg.Data[off+4:], rid.SlotNo)
}

// childAt/setChildAt read an internal node's subtree pointer out of the same
// child_rids slot a leaf would use for its heap Rid — only PageNo is
// meaningful for an internal node, SlotNo is always written as 0.
func (idx *Index) childAt(pg *page.Page, i int32) int32 {
	return idx.ridAt(pg, i).PageNo
}

func (idx *Index) setChildAt(pg *page.Page, i int32, pageNo int32) {
	idx.setRidAt(pg, i, types.Rid{PageNo: pageNo, SlotNo: 0})
}

// compareKeys compares two encoded composite keys column-wise per spec §3's
// value comparator (int/float/date promote, string vs numeric is an error
// that cannot occur here since both sides share idx.schema).
func (idx *Index) compareKeys(a, b []byte) (int, error) {
	off := 0
	for _, col := range idx.schema.Columns {
		w := col.Width()
		va := types.Decode(a[off:off+w], col)
		vb := types.Decode(b[off:off+w], col)
		c, err := types.Compare(va, vb)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
		off += w
	}
	return 0, nil
}

func (idx *Index) fetchHeader() (*page.Page, error) {
	return idx.pool.Fetch(page.ID{FileID: idx.fileID, PageNo: 0})
}

func (idx *Index) fetchNode(pageNo int32) (*page.Page, error) {
	return idx.pool.Fetch(page.ID{FileID: idx.fileID, PageNo: pageNo})
}

func (idx *Index) allocNode(isLeaf bool, parent int32) (*page.Page, error) {
	pg, err := idx.pool.NewPage(idx.fileID)
	if err != nil {
		return nil, err
	}
	idx.formatNode(pg, isLeaf, parent)
	return pg, nil
}

// EncodeKey packs a key tuple into the fixed-width composite wire format.
func (idx *Index) EncodeKey(values []types.Value) ([]byte, error) {
	return types.EncodeTuple(idx.schema, values)
}

// --- descent ---------------------------------------------------------------

// findLeafPage descends from root to the leaf that would hold key, returning
// its page number. The tree latch must already be held.
func (idx *Index) findLeafPage(key []byte) (int32, error) {
	hp, err := idx.fetchHeader()
	if err != nil {
		return 0, err
	}
	cur := getInt32(hp.Data[hdrRootPage:])
	idx.pool.Unpin(hp.ID, false)

	for {
		pg, err := idx.fetchNode(cur)
		if err != nil {
			return 0, err
		}
		if isLeafNode(pg) {
			idx.pool.Unpin(pg.ID, false)
			return cur, nil
		}
		// keys[i] == min_key(subtree(child i)) for every i (I-B4): descend to
		// the last child whose key is <= the search key, or child 0 if the
		// search key precedes every key in this node.
		upper, err := idx.leafUpperBound(pg, key)
		if err != nil {
			idx.pool.Unpin(pg.ID, false)
			return 0, err
		}
		i := upper - 1
		if i < 0 {
			i = 0
		}
		child := idx.childAt(pg, i)
		idx.pool.Unpin(pg.ID, false)
		cur = child
	}
}

// leafLowerBound returns the smallest slot index i in leaf pg with
// keyAt(i) >= key (i may equal numKeys(pg), meaning "roll to next leaf").
func (idx *Index) leafLowerBound(pg *page.Page, key []byte) (int32, error) {
	n := numKeys(pg)
	lo, hi := int32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := idx.compareKeys(idx.keyAt(pg, mid), key)
		if err != nil {
			return 0, err
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (idx *Index) leafUpperBound(pg *page.Page, key []byte) (int32, error) {
	n := numKeys(pg)
	lo, hi := int32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		c, err := idx.compareKeys(idx.keyAt(pg, mid), key)
		if err != nil {
			return 0, err
		}
		if c <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// Cursor is a forward iterator over leaf entries, rolling across the leaf
// linked list on exhaustion (spec §4.3: "lower_bound/upper_bound with leaf
// rollover").
type Cursor struct {
	idx     *Index
	pageNo  int32
	slot    int32
	atEnd   bool
}

// LowerBound positions a cursor at the first entry with key >= the given key.
func (idx *Index) LowerBound(values []types.Value) (*Cursor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key, err := idx.EncodeKey(values)
	if err != nil {
		return nil, err
	}
	return idx.seek(key, idx.leafLowerBound)
}

// UpperBound positions a cursor at the first entry with key > the given key.
func (idx *Index) UpperBound(values []types.Value) (*Cursor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key, err := idx.EncodeKey(values)
	if err != nil {
		return nil, err
	}
	return idx.seek(key, idx.leafUpperBound)
}

func (idx *Index) seek(key []byte, bound func(*page.Page, []byte) (int32, error)) (*Cursor, error) {
	leafNo, err := idx.findLeafPage(key)
	if err != nil {
		return nil, err
	}
	pg, err := idx.fetchNode(leafNo)
	if err != nil {
		return nil, err
	}
	slot, err := bound(pg, key)
	n := numKeys(pg)
	nxt := nextLeaf(pg)
	idx.pool.Unpin(pg.ID, false)
	if err != nil {
		return nil, err
	}
	c := &Cursor{idx: idx, pageNo: leafNo, slot: slot}
	if slot >= n {
		if err := c.rollover(nxt); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cursor) rollover(next int32) error {
	for next != -1 {
		pg, err := c.idx.fetchNode(next)
		if err != nil {
			return err
		}
		n := numKeys(pg)
		nxt := nextLeaf(pg)
		c.idx.pool.Unpin(pg.ID, false)
		if n > 0 {
			c.pageNo, c.slot = next, 0
			return nil
		}
		next = nxt
	}
	c.atEnd = true
	return nil
}

// Next returns the current entry and advances, or ok=false at end of index.
func (c *Cursor) Next() (rid types.Rid, ok bool, err error) {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	if c.atEnd {
		return types.NilRid, false, nil
	}
	pg, err := c.idx.fetchNode(c.pageNo)
	if err != nil {
		return types.NilRid, false, err
	}
	rid = c.idx.ridAt(pg, c.slot)
	n := numKeys(pg)
	nxt := nextLeaf(pg)
	c.idx.pool.Unpin(pg.ID, false)

	c.slot++
	if c.slot >= n {
		if err := c.rollover(nxt); err != nil {
			return types.NilRid, false, err
		}
	}
	return rid, true, nil
}

// Begin positions a cursor at the very first entry in key order, per spec
// §4.3's leaf_begin.
func (idx *Index) Begin() (*Cursor, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	hp, err := idx.fetchHeader()
	if err != nil {
		return nil, err
	}
	first := getInt32(hp.Data[hdrFirstLeaf:])
	idx.pool.Unpin(hp.ID, false)
	c := &Cursor{idx: idx, pageNo: first, slot: 0}
	pg, err := idx.fetchNode(first)
	if err != nil {
		return nil, err
	}
	n := numKeys(pg)
	nxt := nextLeaf(pg)
	idx.pool.Unpin(pg.ID, false)
	if n == 0 {
		if err := c.rollover(nxt); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the single Rid stored under an exact key match, per spec
// §4.3's get_value.
func (idx *Index) Get(values []types.Value) (types.Rid, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key, err := idx.EncodeKey(values)
	if err != nil {
		return types.NilRid, false, err
	}
	leafNo, err := idx.findLeafPage(key)
	if err != nil {
		return types.NilRid, false, err
	}
	pg, err := idx.fetchNode(leafNo)
	if err != nil {
		return types.NilRid, false, err
	}
	defer idx.pool.Unpin(pg.ID, false)
	slot, err := idx.leafLowerBound(pg, key)
	if err != nil {
		return types.NilRid, false, err
	}
	if slot >= numKeys(pg) {
		return types.NilRid, false, nil
	}
	c, err := idx.compareKeys(idx.keyAt(pg, slot), key)
	if err != nil {
		return types.NilRid, false, err
	}
	if c != 0 {
		return types.NilRid, false, nil
	}
	return idx.ridAt(pg, slot), true, nil
}
