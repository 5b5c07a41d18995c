package kernel

import (
	"bytes"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"OwnLedger/internal/ids"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

// openLock is a substate lock held by a frame.
type openLock struct {
	st     store.SubstateStore // st is the tier that granted the lock
	handle store.LockHandle    // handle is the tier-local handle
	node   ids.NodeId
	module substate.ModuleId
	key    substate.Key
	flags  substate.LockFlags
	temps  []ids.NodeId // temps are the refs made visible by the locked value
}

// CallFrame is the bookkeeping of one invocation: which nodes it owns,
// which it may reference, and which locks it holds.
type CallFrame struct {
	depth    int
	actor    Actor
	owned    mapset.Set               // owned are root nodes owned by the frame
	immortal mapset.Set               // immortal are refs valid for the whole frame
	temp     map[ids.NodeId]int       // temp counts refs exposed by open locks
	locks    map[LockHandle]*openLock // locks are the open substate locks
	authZone ids.NodeId               // authZone is set by the auth zone module
}

// newFrame creates an empty frame.
func newFrame(depth int, actor Actor) *CallFrame {
	return &CallFrame{
		depth:    depth,
		actor:    actor,
		owned:    mapset.NewThreadUnsafeSet(),
		immortal: mapset.NewThreadUnsafeSet(),
		temp:     make(map[ids.NodeId]int),
		locks:    make(map[LockHandle]*openLock),
	}
}

// Depth returns the frame depth; the root frame is 0.
func (f *CallFrame) Depth() int {
	return f.depth
}

// Actor returns the frame actor.
func (f *CallFrame) Actor() Actor {
	return f.actor
}

// AuthZone returns the frame auth zone, zero before the module ran.
func (f *CallFrame) AuthZone() ids.NodeId {
	return f.authZone
}

// Owns reports whether id is an owned root of the frame.
func (f *CallFrame) Owns(id ids.NodeId) bool {
	return f.owned.Contains(id)
}

// visible reports whether the frame can reference id.
func (f *CallFrame) visible(id ids.NodeId) bool {
	return f.owned.Contains(id) || f.immortal.Contains(id) || f.temp[id] > 0 || isAlwaysVisible(id)
}

// exposeTemp makes the owns and non-global refs of a locked value visible
// and returns the list to hide again on close. Global refs become immortal.
func (f *CallFrame) exposeTemp(v *substate.Value) []ids.NodeId {
	if v == nil {
		return nil
	}

	temps := make([]ids.NodeId, 0, len(v.Owns)+len(v.Refs))
	temps = append(temps, v.Owns...)

	for _, ref := range v.Refs {
		if ref.IsGlobal() {
			f.immortal.Add(ref)
			continue
		}
		temps = append(temps, ref)
	}

	for _, id := range temps {
		f.temp[id]++
	}

	return temps
}

// hideTemp reverses exposeTemp.
func (f *CallFrame) hideTemp(temps []ids.NodeId) {
	for _, id := range temps {
		if f.temp[id]--; f.temp[id] <= 0 {
			delete(f.temp, id)
		}
	}
}

// ownedIds returns the owned roots sorted by id bytes.
func (f *CallFrame) ownedIds() []ids.NodeId {
	out := make([]ids.NodeId, 0, f.owned.Cardinality())
	for _, v := range f.owned.ToSlice() {
		out = append(out, v.(ids.NodeId))
	}
	sortIds(out)
	return out
}

// lockHandles returns the open handles in opening order.
func (f *CallFrame) lockHandles() []LockHandle {
	out := make([]LockHandle, 0, len(f.locks))
	for h := range f.locks {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sortIds orders ids by bytes.
func sortIds(list []ids.NodeId) {
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i][:], list[j][:]) < 0
	})
}

// isAlwaysVisible reports well-known global addresses every frame may use.
func isAlwaysVisible(id ids.NodeId) bool {
	return id == ids.NativeToken || id == ids.SignerBadgeResource
}
