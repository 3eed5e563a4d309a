package index

import (
	"github.com/pkg/errors"

	"relcore/relerr"
	"relcore/storage/page"
	"relcore/types"
)

// minKeys implements I-B2's ⌈max/2⌉ floor, shared by leaves and internal
// nodes now that both use the same 1:1 keys[i]/child_rids[i] layout.
func (idx *Index) minKeys() int32 { return (idx.maxKeys + 1) / 2 }

// DeleteEntry removes the entry with the given exact key, redistributing
// from a sibling (preferring the left sibling) or coalescing into the left
// sibling on underflow, per spec §4.3.
func (idx *Index) DeleteEntry(values []types.Value) error {
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
	if slot >= numKeys(leaf) {
		idx.pool.Unpin(leaf.ID, false)
		return errors.Wrap(relerr.ErrInternal, "index: key not found")
	}
	if c, err := idx.compareKeys(idx.keyAt(leaf, slot), key); err != nil {
		idx.pool.Unpin(leaf.ID, false)
		return err
	} else if c != 0 {
		idx.pool.Unpin(leaf.ID, false)
		return errors.Wrap(relerr.ErrInternal, "index: key not found")
	}

	idx.leafRemoveAt(leaf, slot)
	firstKeyChanged := slot == 0 && numKeys(leaf) > 0
	var newFirst []byte
	if firstKeyChanged {
		newFirst = append([]byte(nil), idx.keyAt(leaf, 0)...)
	}

	isRoot := parentOf(leaf) == -1
	underflow := !isRoot && numKeys(leaf) < idx.minKeys()
	pageNo := leaf.ID.PageNo
	if err := idx.pool.Unpin(leaf.ID, true); err != nil {
		return err
	}

	if firstKeyChanged {
		if err := idx.maintainParentSeparator(pageNo, newFirst); err != nil {
			return err
		}
	}
	if underflow {
		return idx.coalesceOrRedistribute(pageNo)
	}
	return nil
}

func (idx *Index) leafRemoveAt(pg *page.Page, slot int32) {
	n := numKeys(pg)
	for i := slot; i < n-1; i++ {
		copy(idx.keyAt(pg, i), idx.keyAt(pg, i+1))
		idx.setRidAt(pg, i, idx.ridAt(pg, i+1))
	}
	setNumKeys(pg, n-1)
}

// internalRemoveAt drops the (key, child) pair at slot, shifting later
// entries left by one — the 1:1 layout removes both halves of a pair
// together, unlike a classical separator/child split removal.
func (idx *Index) internalRemoveAt(pg *page.Page, slot int32) {
	n := numKeys(pg)
	for i := slot; i < n-1; i++ {
		copy(idx.keyAt(pg, i), idx.keyAt(pg, i+1))
		idx.setChildAt(pg, i, idx.childAt(pg, i+1))
	}
	setNumKeys(pg, n-1)
}

// childIndex returns the slot in parent whose child pointer equals
// childPageNo.
func (idx *Index) childIndex(parent *page.Page, childPageNo int32) int32 {
	n := numKeys(parent)
	for i := int32(0); i < n; i++ {
		if idx.childAt(parent, i) == childPageNo {
			return i
		}
	}
	return -1
}

// maintainParentSeparator updates the parent-level key that routes to
// childPageNo when childPageNo's first key has changed. Under the 1:1
// layout every child, including the leftmost, has its own governing key
// (I-B4), so when the changed child sits at index 0 the parent's own first
// key just changed too — this recurses upward until it either updates a
// non-leftmost slot or reaches the root.
func (idx *Index) maintainParentSeparator(childPageNo int32, newFirstKey []byte) error {
	child, err := idx.fetchNode(childPageNo)
	if err != nil {
		return err
	}
	parentNo := parentOf(child)
	idx.pool.Unpin(child.ID, false)
	if parentNo == -1 {
		return nil
	}
	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	i := idx.childIndex(parent, childPageNo)
	idx.setKeyAt(parent, i, newFirstKey)
	if err := idx.pool.Unpin(parent.ID, true); err != nil {
		return err
	}
	if i == 0 {
		return idx.maintainParentSeparator(parentNo, newFirstKey)
	}
	return nil
}

// coalesceOrRedistribute restores minimum occupancy for the (non-root) node
// at pageNo by borrowing from a sibling, or merging with one — always
// leaving the left member of the merged pair as survivor.
func (idx *Index) coalesceOrRedistribute(pageNo int32) error {
	node, err := idx.fetchNode(pageNo)
	if err != nil {
		return err
	}
	parentNo := parentOf(node)
	leaf := isLeafNode(node)
	idx.pool.Unpin(node.ID, false)
	if parentNo == -1 {
		return idx.maybeCollapseRoot(pageNo)
	}

	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	i := idx.childIndex(parent, pageNo)
	n := numKeys(parent)
	var leftSib, rightSib int32 = -1, -1
	if i > 0 {
		leftSib = idx.childAt(parent, i-1)
	}
	if i < n-1 {
		rightSib = idx.childAt(parent, i+1)
	}
	idx.pool.Unpin(parent.ID, false)

	minK := idx.minKeys()
	if leftSib != -1 {
		lp, err := idx.fetchNode(leftSib)
		if err != nil {
			return err
		}
		lk := numKeys(lp)
		idx.pool.Unpin(lp.ID, false)
		if lk > minK {
			if leaf {
				return idx.redistributeLeafFromLeft(leftSib, pageNo, parentNo, i)
			}
			return idx.redistributeInternalFromLeft(leftSib, pageNo, parentNo, i)
		}
	}
	if rightSib != -1 {
		rp, err := idx.fetchNode(rightSib)
		if err != nil {
			return err
		}
		rk := numKeys(rp)
		idx.pool.Unpin(rp.ID, false)
		if rk > minK {
			if leaf {
				return idx.redistributeLeafFromRight(pageNo, rightSib, parentNo, i)
			}
			return idx.redistributeInternalFromRight(pageNo, rightSib, parentNo, i)
		}
	}

	// Merging always keeps the left member of the pair as survivor and
	// removes the right member's own (key, child) entry from parent — the
	// removed entry sits at the right member's own index under the 1:1
	// layout, not at a separator-shifted index.
	if leftSib != -1 {
		if leaf {
			return idx.coalesceLeaf(leftSib, pageNo, parentNo, i)
		}
		return idx.coalesceInternal(leftSib, pageNo, parentNo, i)
	}
	// No left sibling: pageNo is the leftmost child, merge right into it.
	if leaf {
		return idx.coalesceLeaf(pageNo, rightSib, parentNo, i+1)
	}
	return idx.coalesceInternal(pageNo, rightSib, parentNo, i+1)
}

func (idx *Index) redistributeLeafFromLeft(leftNo, nodeNo, parentNo, nodeSlot int32) error {
	left, err := idx.fetchNode(leftNo)
	if err != nil {
		return err
	}
	node, err := idx.fetchNode(nodeNo)
	if err != nil {
		idx.pool.Unpin(left.ID, false)
		return err
	}
	ln := numKeys(left)
	borrowKey := append([]byte(nil), idx.keyAt(left, ln-1)...)
	borrowRid := idx.ridAt(left, ln-1)
	setNumKeys(left, ln-1)

	idx.entryInsertAt(node, 0, borrowKey, borrowRid)

	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(node.ID, true); err != nil {
		return err
	}
	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	// node's own governing key sits at its own index under I-B4.
	idx.setKeyAt(parent, nodeSlot, borrowKey)
	return idx.pool.Unpin(parent.ID, true)
}

func (idx *Index) redistributeLeafFromRight(nodeNo, rightNo, parentNo, nodeSlot int32) error {
	node, err := idx.fetchNode(nodeNo)
	if err != nil {
		return err
	}
	right, err := idx.fetchNode(rightNo)
	if err != nil {
		idx.pool.Unpin(node.ID, false)
		return err
	}
	borrowKey := append([]byte(nil), idx.keyAt(right, 0)...)
	borrowRid := idx.ridAt(right, 0)
	idx.leafRemoveAt(right, 0)

	nn := numKeys(node)
	idx.setKeyAt(node, nn, borrowKey)
	idx.setRidAt(node, nn, borrowRid)
	setNumKeys(node, nn+1)

	newRightFirst := append([]byte(nil), idx.keyAt(right, 0)...)

	if err := idx.pool.Unpin(node.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(right.ID, true); err != nil {
		return err
	}
	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	// rightNo's own governing key sits at its own index (nodeSlot+1).
	idx.setKeyAt(parent, nodeSlot+1, newRightFirst)
	return idx.pool.Unpin(parent.ID, true)
}

// redistributeInternalFromLeft borrows left's last (key, child) pair and
// prepends it to node — structurally identical to a leaf borrow now that
// internal nodes carry one child_rids slot per key with no separate
// separator slot.
func (idx *Index) redistributeInternalFromLeft(leftNo, nodeNo, parentNo, nodeSlot int32) error {
	left, err := idx.fetchNode(leftNo)
	if err != nil {
		return err
	}
	node, err := idx.fetchNode(nodeNo)
	if err != nil {
		idx.pool.Unpin(left.ID, false)
		return err
	}

	ln := numKeys(left)
	borrowKey := append([]byte(nil), idx.keyAt(left, ln-1)...)
	movedChild := idx.childAt(left, ln-1)
	setNumKeys(left, ln-1)

	idx.entryInsertAt(node, 0, borrowKey, types.Rid{PageNo: movedChild})

	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(node.ID, true); err != nil {
		return err
	}

	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	idx.setKeyAt(parent, nodeSlot, borrowKey)
	if err := idx.pool.Unpin(parent.ID, true); err != nil {
		return err
	}
	return idx.setParentField(movedChild, nodeNo)
}

// redistributeInternalFromRight borrows right's first (key, child) pair and
// appends it to node.
func (idx *Index) redistributeInternalFromRight(nodeNo, rightNo, parentNo, nodeSlot int32) error {
	node, err := idx.fetchNode(nodeNo)
	if err != nil {
		return err
	}
	right, err := idx.fetchNode(rightNo)
	if err != nil {
		idx.pool.Unpin(node.ID, false)
		return err
	}

	borrowKey := append([]byte(nil), idx.keyAt(right, 0)...)
	movedChild := idx.childAt(right, 0)
	idx.internalRemoveAt(right, 0)

	nn := numKeys(node)
	idx.setKeyAt(node, nn, borrowKey)
	idx.setChildAt(node, nn, movedChild)
	setNumKeys(node, nn+1)

	newRightFirst := append([]byte(nil), idx.keyAt(right, 0)...)

	if err := idx.pool.Unpin(node.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(right.ID, true); err != nil {
		return err
	}

	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	idx.setKeyAt(parent, nodeSlot+1, newRightFirst)
	if err := idx.pool.Unpin(parent.ID, true); err != nil {
		return err
	}
	return idx.setParentField(movedChild, nodeNo)
}

// coalesceLeaf merges right's entries into left (left survives), splices the
// leaf list, and removes right's own (key, child) pair from the parent.
func (idx *Index) coalesceLeaf(leftNo, rightNo, parentNo, mergedSlot int32) error {
	left, err := idx.fetchNode(leftNo)
	if err != nil {
		return err
	}
	right, err := idx.fetchNode(rightNo)
	if err != nil {
		idx.pool.Unpin(left.ID, false)
		return err
	}

	ln, rn := numKeys(left), numKeys(right)
	for i := int32(0); i < rn; i++ {
		idx.setKeyAt(left, ln+i, idx.keyAt(right, i))
		idx.setRidAt(left, ln+i, idx.ridAt(right, i))
	}
	setNumKeys(left, ln+rn)
	setNextLeaf(left, nextLeaf(right))

	nextNo := nextLeaf(right)
	if err := idx.pool.Unpin(right.ID, true); err != nil {
		return err
	}
	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}
	if nextNo != -1 {
		succ, err := idx.fetchNode(nextNo)
		if err != nil {
			return err
		}
		setPrevLeaf(succ, leftNo)
		if err := idx.pool.Unpin(succ.ID, true); err != nil {
			return err
		}
	} else {
		if err := idx.updateLastLeaf(leftNo); err != nil {
			return err
		}
	}
	if err := idx.pool.DeletePage(right.ID); err != nil {
		return err
	}

	return idx.removeFromParentAfterMerge(parentNo, mergedSlot)
}

// coalesceInternal merges right's (key, child) pairs into left verbatim and
// reparents right's children. Unlike a classical n-key/(n+1)-child merge,
// there is no separator to pull down from parent: right's own first key is
// already its min-key under I-B4, so appending its entries as-is preserves
// the invariant.
func (idx *Index) coalesceInternal(leftNo, rightNo, parentNo, mergedSlot int32) error {
	left, err := idx.fetchNode(leftNo)
	if err != nil {
		return err
	}
	right, err := idx.fetchNode(rightNo)
	if err != nil {
		idx.pool.Unpin(left.ID, false)
		return err
	}

	ln, rn := numKeys(left), numKeys(right)
	for i := int32(0); i < rn; i++ {
		idx.setKeyAt(left, ln+i, idx.keyAt(right, i))
		idx.setChildAt(left, ln+i, idx.childAt(right, i))
	}
	setNumKeys(left, ln+rn)

	movedChildren := make([]int32, rn)
	for i := int32(0); i < rn; i++ {
		movedChildren[i] = idx.childAt(right, i)
	}

	if err := idx.pool.Unpin(right.ID, false); err != nil {
		return err
	}
	if err := idx.pool.Unpin(left.ID, true); err != nil {
		return err
	}
	if err := idx.pool.DeletePage(page.ID{FileID: idx.fileID, PageNo: rightNo}); err != nil {
		return err
	}
	for _, c := range movedChildren {
		if err := idx.setParentField(c, leftNo); err != nil {
			return err
		}
	}

	return idx.removeFromParentAfterMerge(parentNo, mergedSlot)
}

// removeFromParentAfterMerge drops the merged-away node's own (key, child)
// pair at mergedSlot from parent, then recurses if the parent itself now
// underflows or must collapse as root.
func (idx *Index) removeFromParentAfterMerge(parentNo, mergedSlot int32) error {
	parent, err := idx.fetchNode(parentNo)
	if err != nil {
		return err
	}
	idx.internalRemoveAt(parent, mergedSlot)
	isRoot := parentOf(parent) == -1
	underflow := !isRoot && numKeys(parent) < idx.minKeys()
	if err := idx.pool.Unpin(parent.ID, true); err != nil {
		return err
	}
	if isRoot {
		return idx.maybeCollapseRoot(parentNo)
	}
	if underflow {
		return idx.coalesceOrRedistribute(parentNo)
	}
	return nil
}

// maybeCollapseRoot replaces an internal root that has fallen to a single
// (key, child) pair with that child, per spec §4.3's root-collapse rule. A
// leaf root has no minimum-occupancy constraint and is left as-is.
func (idx *Index) maybeCollapseRoot(rootNo int32) error {
	root, err := idx.fetchNode(rootNo)
	if err != nil {
		return err
	}
	if isLeafNode(root) || numKeys(root) > 1 {
		return idx.pool.Unpin(root.ID, false)
	}
	onlyChild := idx.childAt(root, 0)
	if err := idx.pool.Unpin(root.ID, false); err != nil {
		return err
	}
	if err := idx.setParentField(onlyChild, -1); err != nil {
		return err
	}
	if err := idx.pool.DeletePage(page.ID{FileID: idx.fileID, PageNo: rootNo}); err != nil {
		return err
	}
	return idx.updateRoot(onlyChild)
}
