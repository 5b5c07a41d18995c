package authzone

import (
	"fmt"

	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

// maxBarrierCrossings is how many frame barriers evidence may cross.
const maxBarrierCrossings = 1

// reach is what the zones visible from the current frame hold.
type reach struct {
	states   []*resource.ProofState // states of the proofs in every visited zone
	virtuals map[ids.NodeId]struct{}
	badges   resource.IdSet
}

// walk visits zones toward the root. Crossing a barrier zone counts once,
// and the walk stops before a second crossing.
func walk(api kernel.API) (*reach, error) {
	zone := api.AuthZone()
	if zone.IsZero() {
		return nil, ErrNoAuthZone
	}

	var handles []kernel.LockHandle
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			_ = api.CloseSubstate(handles[i])
		}
	}()

	out := &reach{virtuals: make(map[ids.NodeId]struct{}), badges: resource.NewIdSet()}
	crossings := 0

	for !zone.IsZero() {
		h, err := api.OpenSubstate(zone, substate.ModuleMain, zoneField, 0)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)

		v, err := api.ReadSubstate(h)
		if err != nil {
			return nil, err
		}
		z, err := decodeZoneState(v.Data)
		if err != nil {
			return nil, err
		}

		for _, p := range v.Owns {
			state, err := resource.ReadProof(api, p)
			if err != nil {
				return nil, err
			}
			out.states = append(out.states, state)
		}

		for _, res := range z.virtualResources {
			out.virtuals[res] = struct{}{}
		}
		for _, id := range z.virtualBadges.Slice() {
			out.badges.Add(id)
		}

		if z.barrier {
			if crossings == maxBarrierCrossings {
				break
			}
			crossings++
		}

		zone = ids.NodeId{}
		if len(v.Refs) > 0 {
			zone = v.Refs[0]
		}
	}

	return out, nil
}

// gather collects the evidence reachable from the current zone.
func gather(api kernel.API) (*Evidence, error) {
	r, err := walk(api)
	if err != nil {
		return nil, err
	}

	ev := newEvidence()
	for res := range r.virtuals {
		ev.virtuals[res] = struct{}{}
	}
	if r.badges.Len() > 0 {
		ev.addAmount(ids.SignerBadgeResource, decimal.New(uint64(r.badges.Len())), r.badges)
	}
	ev.addProofs(r.states)

	return ev, nil
}

// CheckAuth verifies the current frame satisfies rule.
func CheckAuth(api kernel.API, rule AccessRule) error {
	if rule.Op == OpAllow {
		return nil
	}

	ev, err := gather(api)
	if err != nil {
		return err
	}

	if !ev.Satisfies(rule) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, rule)
	}

	return nil
}

// Authorizer evaluates encoded rules with CheckAuth.
type Authorizer struct{}

// Authorize implements resource.Authorizer.
func (Authorizer) Authorize(api kernel.API, rule []byte) error {
	r, err := DecodeRule(rule)
	if err != nil {
		return err
	}
	return CheckAuth(api, r)
}
