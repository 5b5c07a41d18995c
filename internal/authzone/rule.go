package authzone

import (
	"fmt"
	"strings"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/resource"
)

// RuleOp is the node type of an access rule tree.
type RuleOp uint8

const (
	OpDeny               RuleOp = 0
	OpAllow              RuleOp = 1
	OpRequire            RuleOp = 2
	OpRequireAmount      RuleOp = 3
	OpRequireNonFungible RuleOp = 4
	OpAllOf              RuleOp = 5
	OpAnyOf              RuleOp = 6
)

// maxRuleDepth bounds nesting of decoded rules.
const maxRuleDepth = 16

// AccessRule is a boolean condition over the proofs reachable from a frame.
type AccessRule struct {
	Op       RuleOp
	Resource ids.NodeId      // Resource is the proven resource for require ops
	Amount   decimal.Decimal // Amount is the minimum for OpRequireAmount
	Ids      resource.IdSet  // Ids must all be proven for OpRequireNonFungible
	Rules    []AccessRule    // Rules are the operands of OpAllOf and OpAnyOf
}

// AllowAll always passes.
func AllowAll() AccessRule {
	return AccessRule{Op: OpAllow}
}

// DenyAll never passes.
func DenyAll() AccessRule {
	return AccessRule{Op: OpDeny}
}

// Require passes with any non-empty proof of res.
func Require(res ids.NodeId) AccessRule {
	return AccessRule{Op: OpRequire, Resource: res}
}

// RequireAmount passes when at least amount of res is proven.
func RequireAmount(res ids.NodeId, amount decimal.Decimal) AccessRule {
	return AccessRule{Op: OpRequireAmount, Resource: res, Amount: amount}
}

// RequireNonFungible passes when every id of res is proven.
func RequireNonFungible(res ids.NodeId, list ...resource.LocalId) AccessRule {
	return AccessRule{Op: OpRequireNonFungible, Resource: res, Ids: resource.NewIdSet(list...)}
}

// AllOf passes when every rule passes.
func AllOf(rules ...AccessRule) AccessRule {
	return AccessRule{Op: OpAllOf, Rules: rules}
}

// AnyOf passes when one rule passes.
func AnyOf(rules ...AccessRule) AccessRule {
	return AccessRule{Op: OpAnyOf, Rules: rules}
}

// String renders the rule for errors.
func (r AccessRule) String() string {
	switch r.Op {
	case OpAllow:
		return "allow_all"
	case OpDeny:
		return "deny_all"
	case OpRequire:
		return fmt.Sprintf("require(%v)", r.Resource)
	case OpRequireAmount:
		return fmt.Sprintf("require_amount(%s, %v)", r.Amount, r.Resource)
	case OpRequireNonFungible:
		return fmt.Sprintf("require(%v:%s)", r.Resource, strings.Join(r.Ids.Strings(), ","))
	case OpAllOf, OpAnyOf:
		parts := make([]string, len(r.Rules))
		for i, sub := range r.Rules {
			parts[i] = sub.String()
		}
		name := "all_of"
		if r.Op == OpAnyOf {
			name = "any_of"
		}
		return name + "(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("rule(%d)", r.Op)
}

// Encode serializes the rule tree.
func (r AccessRule) Encode() []byte {
	w := codec.NewWriter(64)
	r.encode(w)
	return w.Bytes()
}

func (r AccessRule) encode(w *codec.Writer) {
	w.U8(uint8(r.Op))

	switch r.Op {
	case OpRequire:
		w.NodeId(r.Resource)
	case OpRequireAmount:
		w.NodeId(r.Resource).Decimal(r.Amount)
	case OpRequireNonFungible:
		w.NodeId(r.Resource).Strings(r.Ids.Strings())
	case OpAllOf, OpAnyOf:
		w.U32(uint32(len(r.Rules)))
		for _, sub := range r.Rules {
			sub.encode(w)
		}
	}
}

// DecodeRule parses the output of Encode. Empty input is DenyAll.
func DecodeRule(b []byte) (AccessRule, error) {
	if len(b) == 0 {
		return DenyAll(), nil
	}

	r := codec.NewReader(b)

	rule, err := decodeRule(r, 0)
	if err != nil {
		return AccessRule{}, err
	}
	if err := r.Done(); err != nil {
		return AccessRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	return rule, nil
}

func decodeRule(r *codec.Reader, depth int) (AccessRule, error) {
	if depth > maxRuleDepth {
		return AccessRule{}, fmt.Errorf("%w: nested deeper than %d", ErrInvalidRule, maxRuleDepth)
	}

	rule := AccessRule{Op: RuleOp(r.U8())}

	switch rule.Op {
	case OpAllow, OpDeny:
	case OpRequire:
		rule.Resource = r.NodeId()
	case OpRequireAmount:
		rule.Resource = r.NodeId()
		rule.Amount = r.Decimal()
	case OpRequireNonFungible:
		rule.Resource = r.NodeId()
		set, err := resource.ParseIdSet(r.Strings())
		if err != nil {
			return AccessRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		rule.Ids = set
	case OpAllOf, OpAnyOf:
		n := r.U32()
		for i := uint32(0); i < n && r.Err() == nil; i++ {
			sub, err := decodeRule(r, depth+1)
			if err != nil {
				return AccessRule{}, err
			}
			rule.Rules = append(rule.Rules, sub)
		}
	default:
		return AccessRule{}, fmt.Errorf("%w: op %d", ErrInvalidRule, rule.Op)
	}

	if err := r.Err(); err != nil {
		return AccessRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	return rule, nil
}

// Evidence is what the proofs reachable from a frame establish.
type Evidence struct {
	amounts  map[ids.NodeId]decimal.Decimal
	nfIds    map[ids.NodeId]resource.IdSet
	virtuals map[ids.NodeId]struct{} // virtuals are resources provable in any quantity
}

func newEvidence() *Evidence {
	return &Evidence{
		amounts:  make(map[ids.NodeId]decimal.Decimal),
		nfIds:    make(map[ids.NodeId]resource.IdSet),
		virtuals: make(map[ids.NodeId]struct{}),
	}
}

// addProofs merges what a set of proofs establishes, counting each lock
// once.
func (e *Evidence) addProofs(states []*resource.ProofState) {
	seen := make(map[ids.NodeId]struct{})

	for _, p := range states {
		if _, ok := seen[p.Resource]; ok {
			continue
		}
		seen[p.Resource] = struct{}{}

		amount, set := resource.ProvableAmount(states, p.Resource)
		e.addAmount(p.Resource, amount, set)
	}
}

// addAmount records amount and ids of res.
func (e *Evidence) addAmount(res ids.NodeId, amount decimal.Decimal, set resource.IdSet) {
	if cur, ok := e.amounts[res]; ok {
		amount, _ = cur.Add(amount)
	}
	e.amounts[res] = amount

	merged := e.nfIds[res]
	merged = merged.Clone()
	for _, id := range set.Slice() {
		merged.Add(id)
	}
	e.nfIds[res] = merged
}

// Satisfies evaluates rule against the evidence.
func (e *Evidence) Satisfies(rule AccessRule) bool {
	switch rule.Op {
	case OpAllow:
		return true
	case OpRequire:
		if _, ok := e.virtuals[rule.Resource]; ok {
			return true
		}
		return !e.amounts[rule.Resource].IsZero() || e.nfIds[rule.Resource].Len() > 0
	case OpRequireAmount:
		if _, ok := e.virtuals[rule.Resource]; ok {
			return true
		}
		return !e.amounts[rule.Resource].Lt(rule.Amount)
	case OpRequireNonFungible:
		if _, ok := e.virtuals[rule.Resource]; ok {
			return true
		}
		return rule.Ids.IsSubset(e.nfIds[rule.Resource])
	case OpAllOf:
		for _, sub := range rule.Rules {
			if !e.Satisfies(sub) {
				return false
			}
		}
		return true
	case OpAnyOf:
		for _, sub := range rule.Rules {
			if e.Satisfies(sub) {
				return true
			}
		}
		return false
	}
	return false
}
