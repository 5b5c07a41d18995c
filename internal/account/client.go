package account

import (
	"fmt"

	"OwnLedger/internal/authzone"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/substate"
)

func call(api kernel.API, acct ids.NodeId, fn string, args *substate.Value) (*substate.Value, error) {
	return api.Invoke(kernel.Method(acct, blueprint, fn), args)
}

func single(out *substate.Value, err error) (ids.NodeId, error) {
	if err != nil {
		return ids.NodeId{}, err
	}
	if len(out.Owns) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: expected one returned node, got %d", resource.ErrInvalidArgs, len(out.Owns))
	}
	return out.Owns[0], nil
}

func amountArgs(res ids.NodeId, amount decimal.Decimal) *substate.Value {
	return &substate.Value{Data: codec.NewWriter(64).NodeId(res).Decimal(amount).Bytes()}
}

func idArgs(res ids.NodeId, set resource.IdSet) *substate.Value {
	return &substate.Value{Data: codec.NewWriter(64).NodeId(res).Strings(set.Strings()).Bytes()}
}

// Create creates an allocated account guarded by owner.
func Create(api kernel.API, owner authzone.AccessRule) (ids.NodeId, error) {
	out, err := api.Invoke(kernel.Function(blueprint, "create"), &substate.Value{Data: owner.Encode()})
	if err != nil {
		return ids.NodeId{}, err
	}
	if len(out.Refs) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: create returned %d refs", resource.ErrInvalidArgs, len(out.Refs))
	}
	return out.Refs[0], nil
}

// Deposit moves owned buckets into an account.
func Deposit(api kernel.API, acct ids.NodeId, buckets ...ids.NodeId) error {
	fn := "deposit"
	if len(buckets) > 1 {
		fn = "deposit_batch"
	}
	_, err := call(api, acct, fn, &substate.Value{Owns: buckets})
	return err
}

// Withdraw takes amount of res out of an account into a bucket.
func Withdraw(api kernel.API, acct, res ids.NodeId, amount decimal.Decimal) (ids.NodeId, error) {
	return single(call(api, acct, "withdraw", amountArgs(res, amount)))
}

// WithdrawIds takes non-fungible ids of res out of an account.
func WithdrawIds(api kernel.API, acct, res ids.NodeId, set resource.IdSet) (ids.NodeId, error) {
	return single(call(api, acct, "withdraw_ids", idArgs(res, set)))
}

// Balance returns how much of res an account holds.
func Balance(api kernel.API, acct, res ids.NodeId) (decimal.Decimal, error) {
	out, err := call(api, acct, "balance", &substate.Value{Data: codec.NewWriter(32).NodeId(res).Bytes()})
	if err != nil {
		return decimal.Decimal{}, err
	}

	r := codec.NewReader(out.Data)
	d := r.Decimal()
	return d, r.Done()
}

// CreateProofByAmount proves amount of res held by an account.
func CreateProofByAmount(api kernel.API, acct, res ids.NodeId, amount decimal.Decimal) (ids.NodeId, error) {
	return single(call(api, acct, "create_proof_by_amount", amountArgs(res, amount)))
}

// CreateProofByIds proves non-fungible ids of res held by an account.
func CreateProofByIds(api kernel.API, acct, res ids.NodeId, set resource.IdSet) (ids.NodeId, error) {
	return single(call(api, acct, "create_proof_by_ids", idArgs(res, set)))
}
