package index

import (
	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/storage/page"
	"relcore/types"
)

// InsertEntry inserts (key, rid) into the tree, rejecting exact-key
// duplicates so keys within a node stay strictly ascending (invariant I-B1).
func (idx *Index) InsertEntry(values []types.Value, rid types.Rid) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key, err := idx.EncodeKey(values)
	if err != nil {
		return err
	}
	leafNo, err := idx.findLeafPage(key)
	if err != nil {
		return err
	}
	leaf, err := idx.fetchNode(leafNo)
	if err != nil {
		return err
	}

	slot, err := idx.leafLowerBound(leaf, key)
	if err != nil {
		idx.pool.Unpin(leaf.ID, false)
		return err
	}
	if slot < numKeys(leaf) {
		c, err := idx.compareKeys(idx.keyAt(leaf, slot), key)
		if err != nil {
			idx.pool.Unpin(leaf.ID, false)
			return err
		}
		if c == 0 {
			idx.pool.Unpin(leaf.ID, false)
			return errors.Wrap(relerr.ErrIndexKeyDuplicate, "index: duplicate key")
		}
	}

	idx.entryInsertAt(leaf, slot, key, rid)

	if numKeys(leaf) < idx.maxKeys {
		return idx.pool.Unpin(leaf.ID, true)
	}
	return idx.splitLeaf(leaf)
}

// entryInsertAt shifts entries right to open a gap at slot, then writes
// key/rid into it. Shared by leaves (rid is a heap Rid) and internal nodes
// (rid.PageNo is a subtree pointer) since both store one child_rids slot per
// key in the same layout.
func (idx *Index) entryInsertAt(pg *page.Page, slot int32, key []byte, rid types.Rid) {
	n := numKeys(pg)
	for i := n; i > slot; i-- {
		copy(idx.keyAt(pg, i), idx.keyAt(pg, i-1))
		idx.setRidAt(pg, i, idx.ridAt(pg, i-1))
	}
	idx.setKeyAt(pg, slot, key)
	idx.setRidAt(pg, slot, rid)
	setNumKeys(pg, n+1)
}

// splitLeaf splits an overflowing leaf in half, links the new right sibling
// into the leaf chain, and inserts the separator into the parent.
func (idx *Index) splitLeaf(left *page.Page) error {
	n := numKeys(left)
	mid := n / 2

	right, err := idx.allocNode(true, parentOf(left))
	if err != nil {
		idx.pool.Unpin(left.ID, true)
		return err
	}

	rn := n - mid
	for i := int32(0); i < rn; i++ {
		idx.setKeyAt(right, i, idx.keyAt(left, mid+i))
		idx.setRidAt(right, i, idx.ridAt(left, mid+i))
	}
	setNumKeys(right, rn)
	setNumKeys(left, mid)

	setNextLeaf(right, nextLeaf(left))
	setPrevLeaf(right, left.ID.PageNo)
	setNextLeaf(left, right.ID.PageNo)
	if nextLeaf(right) != -1 {
		succ, err := idx.fetchNode(nextLeaf(right))
		if err != nil {
			idx.pool.Unpin(left.ID, true)
			idx.pool.Unpin(right.ID, true)
			return err
		}
		setPrevLeaf(succ, right.ID.PageNo)
		if err := idx.pool.Unpin(succ.ID, true); err != nil {
			return err
		}
	} else {
		if err := idx.updateLastLeaf(right.ID.PageNo); err != nil {
			return err
		}
	}

	// Separator copied up (leaves keep their own copy of the first key).
	sep := append([]byte(nil), idx.keyAt(right, 0)...)

	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(right.ID, true); err != nil {
		return err
	}
	return idx.insertIntoParent(left.ID.PageNo, sep, right.ID.PageNo)
}

// insertIntoParent installs a new (sep, rightChild) entry into leftChild's
// parent — sep is rightChild's own min-key, per I-B4 — creating a new root
// if leftChild had none, and recursing on parent overflow — spec §4.3's
// insert_into_parent, generalized to the 1:1 keys[i]/child_rids[i] layout.
func (idx *Index) insertIntoParent(leftChild int32, sep []byte, rightChild int32) error {
	left, err := idx.fetchNode(leftChild)
	if err != nil {
		return err
	}
	parentNo := parentOf(left)
	leftKey := append([]byte(nil), idx.keyAt(left, 0)...)
	if err := idx.pool.Unpin(left.ID, false); err != nil {
		return err
	}

	if parentNo == -1 {
		root, err := idx.allocNode(false, -1)
		if err != nil {
			return err
		}
		idx.setKeyAt(root, 0, leftKey)
		idx.setChildAt(root, 0, leftChild)
		idx.setKeyAt(root, 1, sep)
		idx.setChildAt(root, 1, rightChild)
		setNumKeys(root, 2)
		if err := idx.setParentField(leftChild, root.ID.PageNo); err != nil {
			return err
		}
		if err := idx.setParentField(rightChild, root.ID.PageNo); err != nil {
			return err
		}
		if err := idx.pool.Unpin(root.ID, true); err != nil {
			return err
		}
		return idx.updateRoot(root.ID.PageNo)
	}

	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	slot := idx.childIndex(parent, leftChild)
	idx.internalInsertAt(parent, slot+1, sep, rightChild)
	if err := idx.setParentField(rightChild, parentNo); err != nil {
		return err
	}

	if numKeys(parent) < idx.maxKeys {
		return idx.pool.Unpin(parent.ID, true)
	}
	return idx.splitInternal(parent)
}

// internalInsertAt inserts the (sep, rightChild) pair at index slot, shifting
// later entries right — same shape as entryInsertAt, over a page already
// known to be internal.
func (idx *Index) internalInsertAt(pg *page.Page, slot int32, sep []byte, rightChild int32) {
	idx.entryInsertAt(pg, slot, sep, types.Rid{PageNo: rightChild})
}

// splitInternal splits an overflowing internal node exactly like a leaf
// split — right gets the upper half of (key, child) pairs verbatim, and its
// first key is promoted as the separator, since under the 1:1 layout every
// child (including the leftmost) carries its own governing key.
func (idx *Index) splitInternal(left *page.Page) error {
	n := numKeys(left)
	mid := n / 2

	right, err := idx.allocNode(false, parentOf(left))
	if err != nil {
		idx.pool.Unpin(left.ID, true)
		return err
	}

	rn := n - mid
	for i := int32(0); i < rn; i++ {
		idx.setKeyAt(right, i, idx.keyAt(left, mid+i))
		idx.setChildAt(right, i, idx.childAt(left, mid+i))
	}
	setNumKeys(right, rn)
	setNumKeys(left, mid)

	sep := append([]byte(nil), idx.keyAt(right, 0)...)
	rightID := right.ID.PageNo
	leftID := left.ID.PageNo

	movedChildren := make([]int32, rn)
	for i := int32(0); i < rn; i++ {
		movedChildren[i] = idx.childAt(right, i)
	}

	if err := idx.pool.Unpin(right.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}

	for _, c := range movedChildren {
		if err := idx.setParentField(c, rightID); err != nil {
			return err
		}
	}

	return idx.insertIntoParent(leftID, sep, rightID)
}

func (idx *Index) setParentField(childPageNo, parentPageNo int32) error {
	pg, err := idx.fetchNode(childPageNo)
	if err != nil {
		return err
	}
	setParent(pg, parentPageNo)
	return idx.pool.Unpin(pg.ID, true)
}

func (idx *Index) updateRoot(pageNo int32) error {
	hp, err := idx.fetchHeader()
	if err != nil {
		return err
	}
	putInt32(hp.Data[hdrRootPage:], pageNo)
	return idx.pool.Unpin(hp.ID, true)
}

func (idx *Index) updateLastLeaf(pageNo int32) error {
	hp, err := idx.fetchHeader()
	if err != nil {
		return err
	}
	putInt32(hp.Data[hdrLastLeaf:], pageNo)
	return idx.pool.Unpin(hp.ID, true)
}
