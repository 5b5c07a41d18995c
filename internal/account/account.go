// Package account implements the native account blueprint. An account
// keeps one vault per resource in its map collection; withdrawals and
// proofs require the owner rule. Virtual accounts need no creation: their
// owner is the signer badge derived from their address.
package account

import (
	"errors"
	"fmt"

	"OwnLedger/internal/authzone"
	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/logger"
	"OwnLedger/internal/resource"
	"OwnLedger/internal/signer"
	"OwnLedger/internal/store"
	"OwnLedger/internal/substate"
)

const blueprint = kernel.AccountBlueprint

// ownerField holds the encoded owner rule. It is empty for virtual accounts.
var ownerField = substate.FieldKey(0)

// ErrNotAccount is returned when a method targets a non-account node.
var ErrNotAccount = errors.New("not an account")

// Register adds the account blueprint to a registry.
func Register(reg *kernel.Registry) {
	reg.Register(blueprint, "create", create)
	reg.Register(blueprint, "deposit", deposit)
	reg.Register(blueprint, "deposit_batch", deposit)
	reg.Register(blueprint, "withdraw", withdraw)
	reg.Register(blueprint, "withdraw_ids", withdrawIds)
	reg.Register(blueprint, "balance", balance)
	reg.Register(blueprint, "create_proof_by_amount", createProofByAmount)
	reg.Register(blueprint, "create_proof_by_ids", createProofByIds)
}

// vaultKey is the map key of the vault holding res.
func vaultKey(res ids.NodeId) substate.Key {
	return substate.MapKey(res[:])
}

// receiver returns the account the current method runs on.
func receiver(api kernel.API) (ids.NodeId, error) {
	acct := api.Actor().Receiver
	switch acct.EntityType() {
	case ids.EntityGlobalAccount, ids.EntityGlobalVirtualAccount:
		return acct, nil
	}
	return ids.NodeId{}, fmt.Errorf("%w: %v", ErrNotAccount, acct)
}

// ownerRule reads the rule guarding withdrawals.
func ownerRule(api kernel.API, acct ids.NodeId) (authzone.AccessRule, error) {
	h, err := api.OpenSubstate(acct, substate.ModuleMain, ownerField, 0)
	if err != nil {
		return authzone.AccessRule{}, err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return authzone.AccessRule{}, err
	}

	if len(v.Data) == 0 && acct.EntityType() == ids.EntityGlobalVirtualAccount {
		return authzone.RequireNonFungible(ids.SignerBadgeResource, signer.AccountBadge(acct)), nil
	}

	return authzone.DecodeRule(v.Data)
}

// checkOwner verifies the caller satisfies the owner rule.
func checkOwner(api kernel.API) (ids.NodeId, error) {
	acct, err := receiver(api)
	if err != nil {
		return ids.NodeId{}, err
	}

	rule, err := ownerRule(api, acct)
	if err != nil {
		return ids.NodeId{}, err
	}

	return acct, authzone.CheckAuth(api, rule)
}

// withVault runs fn with the vault of res visible. found is false when the
// account never held res.
func withVault(api kernel.API, acct, res ids.NodeId, fn func(vault ids.NodeId) error) (found bool, err error) {
	h, err := api.OpenSubstate(acct, substate.ModuleMain, vaultKey(res), 0)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer api.CloseSubstate(h)

	v, err := api.ReadSubstate(h)
	if err != nil {
		return true, err
	}
	if len(v.Owns) != 1 {
		return true, fmt.Errorf("%w: account entry owns %d vaults", resource.ErrCorruptState, len(v.Owns))
	}

	return true, fn(v.Owns[0])
}

// readTarget decodes the resource argument of a method.
func readTarget(r *codec.Reader) ids.NodeId {
	return r.NodeId()
}

func create(api kernel.API, args *substate.Value) (*substate.Value, error) {
	if _, err := authzone.DecodeRule(args.Data); err != nil {
		return nil, err
	}

	acct, err := api.AllocateNodeId(ids.EntityGlobalAccount)
	if err != nil {
		return nil, err
	}

	subs := substate.NodeSubstates{}
	subs.Set(substate.ModuleMain, ownerField, &substate.Value{Data: args.Data})

	if err := api.CreateNode(acct, blueprint, subs); err != nil {
		return nil, err
	}
	if err := api.Globalize(acct); err != nil {
		return nil, err
	}

	return &substate.Value{Refs: []ids.NodeId{acct}}, nil
}

// deposit stores every bucket in args.Owns. Anyone may deposit.
func deposit(api kernel.API, args *substate.Value) (*substate.Value, error) {
	acct, err := receiver(api)
	if err != nil {
		return nil, err
	}
	if len(args.Owns) == 0 {
		return nil, fmt.Errorf("%w: no bucket to deposit", resource.ErrInvalidArgs)
	}

	for _, bucket := range args.Owns {
		res, err := resource.ResourceOf(api, bucket)
		if err != nil {
			return nil, err
		}

		found, err := withVault(api, acct, res, func(vault ids.NodeId) error {
			return resource.Put(api, vault, bucket)
		})
		if err != nil {
			return nil, err
		}
		if found {
			continue
		}

		vault, err := resource.NewVault(api, res)
		if err != nil {
			return nil, err
		}
		if err := resource.Put(api, vault, bucket); err != nil {
			return nil, err
		}
		entry := &substate.Value{Owns: []ids.NodeId{vault}, Refs: []ids.NodeId{res}}
		if err := api.SetSubstate(acct, substate.ModuleMain, vaultKey(res), entry); err != nil {
			return nil, err
		}

		logger.Debug("account vault created", "account", acct.String(), "resource", res.String())
	}

	return nil, nil
}

// takeFrom runs take on the vault of res after the owner check.
func takeFrom(api kernel.API, res ids.NodeId, take func(vault ids.NodeId) (ids.NodeId, error)) (*substate.Value, error) {
	acct, err := checkOwner(api)
	if err != nil {
		return nil, err
	}

	var out ids.NodeId
	found, err := withVault(api, acct, res, func(vault ids.NodeId) error {
		out, err = take(vault)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: account holds no %v", resource.ErrInsufficientFree, res)
	}

	return &substate.Value{Owns: []ids.NodeId{out}}, nil
}

func withdraw(api kernel.API, args *substate.Value) (*substate.Value, error) {
	r := codec.NewReader(args.Data)
	res, amount := readTarget(r), r.Decimal()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	return takeFrom(api, res, func(vault ids.NodeId) (ids.NodeId, error) {
		return resource.Take(api, vault, amount)
	})
}

func withdrawIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, set, err := decodeIdArgs(args)
	if err != nil {
		return nil, err
	}

	return takeFrom(api, res, func(vault ids.NodeId) (ids.NodeId, error) {
		return resource.TakeIds(api, vault, set)
	})
}

func createProofByAmount(api kernel.API, args *substate.Value) (*substate.Value, error) {
	r := codec.NewReader(args.Data)
	res, amount := readTarget(r), r.Decimal()
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	return takeFrom(api, res, func(vault ids.NodeId) (ids.NodeId, error) {
		return resource.CreateProofByAmount(api, vault, amount)
	})
}

func createProofByIds(api kernel.API, args *substate.Value) (*substate.Value, error) {
	res, set, err := decodeIdArgs(args)
	if err != nil {
		return nil, err
	}

	return takeFrom(api, res, func(vault ids.NodeId) (ids.NodeId, error) {
		return resource.CreateProofByIds(api, vault, set)
	})
}

func balance(api kernel.API, args *substate.Value) (*substate.Value, error) {
	acct, err := receiver(api)
	if err != nil {
		return nil, err
	}

	r := codec.NewReader(args.Data)
	res := readTarget(r)
	if err := r.Done(); err != nil {
		return nil, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	total := decimal.Zero()
	if _, err := withVault(api, acct, res, func(vault ids.NodeId) error {
		total, err = resource.Amount(api, vault)
		return err
	}); err != nil {
		return nil, err
	}

	return &substate.Value{Data: codec.NewWriter(32).Decimal(total).Bytes()}, nil
}

// decodeIdArgs reads a resource followed by a set of local ids.
func decodeIdArgs(args *substate.Value) (ids.NodeId, resource.IdSet, error) {
	r := codec.NewReader(args.Data)
	res := readTarget(r)
	list := r.Strings()
	if err := r.Done(); err != nil {
		return ids.NodeId{}, resource.IdSet{}, fmt.Errorf("%w: %v", resource.ErrInvalidArgs, err)
	}

	set, err := resource.ParseIdSet(list)
	if err != nil {
		return ids.NodeId{}, resource.IdSet{}, err
	}

	return res, set, nil
}
