package transaction

import "sync/atomic"

// Obsoletion is the handle returned by Transaction.Obsolete. It lets a
// caller that still has some other reason to keep an old table file
// around, a reader mid-iteration over it, say so, and guarantees the
// table is not unlinked until every such reason has released its hold.
//
// The handle starts with one implicit reference (the caller that created
// it). Ref takes an additional reference for a sub-handle to pass along
// to another part of the program; each Ref must be balanced by exactly
// one Release, including the implicit one.
type Obsoletion struct {
	relPath string
	wasNew  bool
	refs    atomic.Int32
	fired   atomic.Bool
	onZero  func(o *Obsoletion)
}

func newObsoletion(relPath string, wasNew bool, onZero func(*Obsoletion)) *Obsoletion {
	o := &Obsoletion{relPath: relPath, wasNew: wasNew, onZero: onZero}
	o.refs.Store(1)
	return o
}

// RelPath is the table file this handle guards.
func (o *Obsoletion) RelPath() string { return o.relPath }

// WasNew reports whether the obsoleted table was tracked as ADD within
// the very transaction that obsoleted it. A table that was never
// committed as live output never had its disk-space accounted for, so
// the Tidier must skip the usual disk-usage decrement when this is true.
func (o *Obsoletion) WasNew() bool { return o.wasNew }

// Ref takes an additional reference and returns the same handle, for
// handing to a sub-component that must release it independently.
func (o *Obsoletion) Ref() *Obsoletion {
	o.refs.Add(1)
	return o
}

// Release drops one reference. Once the last reference is released, the
// table becomes eligible for physical deletion (subject to the owning
// transaction having committed).
func (o *Obsoletion) Release() {
	if o.refs.Add(-1) == 0 && o.fired.CompareAndSwap(false, true) {
		o.onZero(o)
	}
}
