package types

// Rid identifies a record's location in a heap file: (page_no, slot_no).
// Stable while the row lives, per spec §3.
type Rid struct {
	PageNo int32
	SlotNo int32
}

// NilRid is the forward-scan termination sentinel, Rid(-1, -1).
var NilRid = Rid{PageNo: -1, SlotNo: -1}

func (r Rid) IsNil() bool { return r == NilRid }

// Iid identifies a position inside a B+-tree node: (page_no, slot_no).
type Iid struct {
	PageNo int32
	SlotNo int32
}

var NilIid = Iid{PageNo: -1, SlotNo: -1}

func (i Iid) IsNil() bool { return i == NilIid }
