// Package resource implements fungible and non-fungible resource
// containers: the shared lockable balance, vaults, buckets, proofs and the
// native blueprints that move value between them.
package resource

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
)

// Kind tells fungible resources from non-fungible ones.
type Kind uint8

const (
	Fungible    Kind = 1
	NonFungible Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Fungible:
		return "fungible"
	case NonFungible:
		return "non_fungible"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindOf returns the kind served by a resource manager address.
func KindOf(resource ids.NodeId) (Kind, bool) {
	switch resource.EntityType() {
	case ids.EntityGlobalFungibleResource:
		return Fungible, true
	case ids.EntityGlobalNonFungibleResource:
		return NonFungible, true
	}
	return 0, false
}

// LockEntry pins part of a container for the proofs sharing it.
type LockEntry struct {
	Id     uint32          // Id is unique within the container
	Refs   uint32          // Refs counts the proofs holding the entry
	Amount decimal.Decimal // Amount is the locked fungible amount
	Ids    IdSet           // Ids are the locked non-fungible ids
}

// LockableResource is the balance of a container. Lock entries are
// exclusive: the sum of locked amounts never exceeds the total, and a
// non-fungible id is held by at most one entry.
type LockableResource struct {
	Resource     ids.NodeId
	Kind         Kind
	Divisibility uint8

	amount decimal.Decimal // amount is the fungible total
	ids    IdSet           // ids is the non-fungible total
	locks  []*LockEntry    // locks are ordered by Id
	next   uint32          // next is the next lock id
}

// NewFungible creates an empty fungible balance.
func NewFungible(resource ids.NodeId, divisibility uint8) *LockableResource {
	return &LockableResource{Resource: resource, Kind: Fungible, Divisibility: divisibility, next: 1}
}

// NewNonFungible creates an empty non-fungible balance.
func NewNonFungible(resource ids.NodeId) *LockableResource {
	return &LockableResource{Resource: resource, Kind: NonFungible, ids: NewIdSet(), next: 1}
}

// NewEmpty creates an empty balance shaped like l.
func (l *LockableResource) NewEmpty() *LockableResource {
	if l.Kind == NonFungible {
		return NewNonFungible(l.Resource)
	}
	return NewFungible(l.Resource, l.Divisibility)
}

// Total returns the held amount; for non-fungibles the id count.
func (l *LockableResource) Total() decimal.Decimal {
	if l.Kind == NonFungible {
		return decimal.New(uint64(l.ids.Len()))
	}
	return l.amount
}

// Ids returns a copy of the held ids.
func (l *LockableResource) Ids() IdSet {
	return l.ids.Clone()
}

// Locked returns the sum of all lock entries.
func (l *LockableResource) Locked() decimal.Decimal {
	sum := decimal.Zero()
	for _, e := range l.locks {
		if l.Kind == NonFungible {
			sum, _ = sum.Add(decimal.New(uint64(e.Ids.Len())))
			continue
		}
		sum, _ = sum.Add(e.Amount)
	}
	return sum
}

// Free returns total minus locked.
func (l *LockableResource) Free() decimal.Decimal {
	free, err := l.Total().Sub(l.Locked())
	if err != nil {
		return decimal.Zero()
	}
	return free
}

// FreeIds returns the held ids not pinned by any entry.
func (l *LockableResource) FreeIds() IdSet {
	free := NewIdSet()
	for _, id := range l.ids.Slice() {
		if !l.idLocked(id) {
			free.Add(id)
		}
	}
	return free
}

// IsEmpty reports whether nothing is held.
func (l *LockableResource) IsEmpty() bool {
	return l.Total().IsZero()
}

// IsLocked reports whether any proof pins the container.
func (l *LockableResource) IsLocked() bool {
	return len(l.locks) > 0
}

// Locks returns copies of the lock entries.
func (l *LockableResource) Locks() []LockEntry {
	out := make([]LockEntry, len(l.locks))
	for i, e := range l.locks {
		out[i] = LockEntry{Id: e.Id, Refs: e.Refs, Amount: e.Amount, Ids: e.Ids.Clone()}
	}
	return out
}

// Lock returns a copy of one entry.
func (l *LockableResource) Lock(id uint32) (LockEntry, bool) {
	e := l.entry(id)
	if e == nil {
		return LockEntry{}, false
	}
	return LockEntry{Id: e.Id, Refs: e.Refs, Amount: e.Amount, Ids: e.Ids.Clone()}, true
}

// LockByAmount pins amount of the free balance. Non-fungibles pin the
// first free ids in id order.
func (l *LockableResource) LockByAmount(amount decimal.Decimal) (uint32, error) {
	if err := l.checkAmount(amount); err != nil {
		return 0, err
	}

	if l.Kind == NonFungible {
		set, err := l.firstFree(amount)
		if err != nil {
			return 0, err
		}
		return l.addLock(&LockEntry{Ids: set}), nil
	}

	if free := l.Free(); amount.Gt(free) {
		return 0, fmt.Errorf("%w: lock %s, free %s", ErrInsufficientFree, amount, free)
	}

	return l.addLock(&LockEntry{Amount: amount}), nil
}

// LockByIds pins the given ids, which must all be held and free.
func (l *LockableResource) LockByIds(set IdSet) (uint32, error) {
	if l.Kind != NonFungible {
		return 0, fmt.Errorf("%w: lock by ids on %v", ErrKindMismatch, l.Kind)
	}
	if err := l.checkFreeIds(set); err != nil {
		return 0, err
	}

	return l.addLock(&LockEntry{Ids: set.Clone()}), nil
}

// LockAll pins everything currently free.
func (l *LockableResource) LockAll() (uint32, error) {
	if l.Kind == NonFungible {
		return l.LockByIds(l.FreeIds())
	}
	return l.LockByAmount(l.Free())
}

// Retain adds a reference to an existing entry.
func (l *LockableResource) Retain(id uint32) error {
	e := l.entry(id)
	if e == nil {
		return fmt.Errorf("%w: %d", ErrUnknownLock, id)
	}
	e.Refs++
	return nil
}

// Unlock drops a reference to an entry; the last one frees its capacity.
func (l *LockableResource) Unlock(id uint32) error {
	for i, e := range l.locks {
		if e.Id != id {
			continue
		}

		if e.Refs--; e.Refs == 0 {
			l.locks = append(l.locks[:i], l.locks[i+1:]...)
		}
		return nil
	}

	return fmt.Errorf("%w: %d", ErrUnknownLock, id)
}

// Put merges other into l. other must be unlocked.
func (l *LockableResource) Put(other *LockableResource) error {
	if err := l.checkCompatible(other); err != nil {
		return err
	}
	if other.IsLocked() {
		return ErrContainerLocked
	}

	if l.Kind == NonFungible {
		for _, id := range other.ids.Slice() {
			if l.ids.Contains(id) {
				return fmt.Errorf("%w: %s", ErrDuplicateId, id)
			}
		}
		for _, id := range other.ids.Slice() {
			l.ids.Add(id)
		}
		return nil
	}

	sum, err := l.amount.Add(other.amount)
	if err != nil {
		return err
	}
	l.amount = sum

	return nil
}

// TakeByAmount removes amount from the free balance.
func (l *LockableResource) TakeByAmount(amount decimal.Decimal) (*LockableResource, error) {
	if err := l.checkAmount(amount); err != nil {
		return nil, err
	}

	if l.Kind == NonFungible {
		set, err := l.firstFree(amount)
		if err != nil {
			return nil, err
		}
		return l.takeIds(set), nil
	}

	if free := l.Free(); amount.Gt(free) {
		return nil, fmt.Errorf("%w: take %s, free %s", ErrInsufficientFree, amount, free)
	}

	rest, err := l.amount.Sub(amount)
	if err != nil {
		return nil, err
	}
	l.amount = rest

	out := l.NewEmpty()
	out.amount = amount

	return out, nil
}

// TakeByIds removes the given free ids.
func (l *LockableResource) TakeByIds(set IdSet) (*LockableResource, error) {
	if l.Kind != NonFungible {
		return nil, fmt.Errorf("%w: take by ids on %v", ErrKindMismatch, l.Kind)
	}
	if err := l.checkFreeIds(set); err != nil {
		return nil, err
	}

	return l.takeIds(set), nil
}

// TakeAll removes the whole free balance.
func (l *LockableResource) TakeAll() *LockableResource {
	if l.Kind == NonFungible {
		return l.takeIds(l.FreeIds())
	}

	out, _ := l.TakeByAmount(l.Free())
	return out
}

// takeIds moves ids already checked as free into a new balance.
func (l *LockableResource) takeIds(set IdSet) *LockableResource {
	out := l.NewEmpty()
	for _, id := range set.Slice() {
		l.ids.Remove(id)
		out.ids.Add(id)
	}
	return out
}

// firstFree picks amount free ids in id order.
func (l *LockableResource) firstFree(amount decimal.Decimal) (IdSet, error) {
	n, ok := amount.Uint64()
	if !ok {
		return IdSet{}, fmt.Errorf("%w: %s is not a whole number of ids", ErrInvalidAmount, amount)
	}

	free := l.FreeIds().Slice()
	if uint64(len(free)) < n {
		return IdSet{}, fmt.Errorf("%w: need %d ids, %d free", ErrInsufficientFree, n, len(free))
	}

	return NewIdSet(free[:n]...), nil
}

// checkAmount validates an amount against the divisibility.
func (l *LockableResource) checkAmount(amount decimal.Decimal) error {
	div := l.Divisibility
	if l.Kind == NonFungible {
		div = 0
	}
	if !amount.CheckDivisibility(div) {
		return fmt.Errorf("%w: %s exceeds divisibility %d", ErrInvalidAmount, amount, div)
	}
	return nil
}

// checkFreeIds verifies every id is held and unlocked.
func (l *LockableResource) checkFreeIds(set IdSet) error {
	for _, id := range set.Slice() {
		if !l.ids.Contains(id) {
			return fmt.Errorf("%w: %s", ErrIdNotFound, id)
		}
		if l.idLocked(id) {
			return fmt.Errorf("%w: %s is locked", ErrInsufficientFree, id)
		}
	}
	return nil
}

// checkCompatible verifies two balances hold the same resource.
func (l *LockableResource) checkCompatible(other *LockableResource) error {
	if l.Kind != other.Kind {
		return fmt.Errorf("%w: %v into %v", ErrKindMismatch, other.Kind, l.Kind)
	}
	if l.Resource != other.Resource {
		return fmt.Errorf("%w: %v into %v", ErrResourceMismatch, other.Resource, l.Resource)
	}
	return nil
}

func (l *LockableResource) idLocked(id LocalId) bool {
	for _, e := range l.locks {
		if e.Ids.Contains(id) {
			return true
		}
	}
	return false
}

func (l *LockableResource) entry(id uint32) *LockEntry {
	for _, e := range l.locks {
		if e.Id == id {
			return e
		}
	}
	return nil
}

// addLock appends an entry with one reference.
func (l *LockableResource) addLock(e *LockEntry) uint32 {
	e.Id = l.next
	e.Refs = 1
	l.next++
	l.locks = append(l.locks, e)
	return e.Id
}

// Encode serializes the balance.
func (l *LockableResource) Encode() []byte {
	w := codec.NewWriter(64).
		U8(uint8(l.Kind)).
		NodeId(l.Resource).
		U8(l.Divisibility).
		U32(l.next)

	if l.Kind == NonFungible {
		w.Strings(l.ids.Strings())
	} else {
		w.Decimal(l.amount)
	}

	w.U32(uint32(len(l.locks)))
	for _, e := range l.locks {
		w.U32(e.Id).U32(e.Refs)
		if l.Kind == NonFungible {
			w.Strings(e.Ids.Strings())
		} else {
			w.Decimal(e.Amount)
		}
	}

	return w.Bytes()
}

// DecodeLockable parses the output of Encode.
func DecodeLockable(b []byte) (*LockableResource, error) {
	r := codec.NewReader(b)

	l := &LockableResource{
		Kind:         Kind(r.U8()),
		Resource:     r.NodeId(),
		Divisibility: r.U8(),
		next:         r.U32(),
	}

	var err error
	switch l.Kind {
	case NonFungible:
		if l.ids, err = ParseIdSet(r.Strings()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
	case Fungible:
		l.amount = r.Decimal()
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrCorruptState, l.Kind)
	}

	n := r.U32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		e := &LockEntry{Id: r.U32(), Refs: r.U32()}
		if l.Kind == NonFungible {
			if e.Ids, err = ParseIdSet(r.Strings()); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
			}
		} else {
			e.Amount = r.Decimal()
		}
		l.locks = append(l.locks, e)
	}

	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	return l, nil
}
