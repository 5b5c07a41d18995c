package resource

import (
	"fmt"

	"OwnLedger/internal/codec"
	"OwnLedger/internal/decimal"
	"OwnLedger/internal/ids"
	"OwnLedger/internal/kernel"
	"OwnLedger/internal/substate"
)

// callContainer invokes a method on a vault or bucket.
func callContainer(api kernel.API, container ids.NodeId, fn string, args *substate.Value) (*substate.Value, error) {
	bp, err := blueprintOf(container)
	if err != nil {
		return nil, err
	}
	return api.Invoke(kernel.Method(container, bp, fn), args)
}

// oneOwned extracts the single node returned by a call.
func oneOwned(out *substate.Value, err error) (ids.NodeId, error) {
	if err != nil {
		return ids.NodeId{}, err
	}
	if len(out.Owns) != 1 {
		return ids.NodeId{}, fmt.Errorf("%w: expected one returned node, got %d", ErrInvalidArgs, len(out.Owns))
	}
	return out.Owns[0], nil
}

// amountArgs encodes a decimal argument.
func amountArgs(amount decimal.Decimal) *substate.Value {
	return &substate.Value{Data: codec.NewWriter(32).Decimal(amount).Bytes()}
}

// idsArgs encodes an id set argument.
func idsArgs(set IdSet) *substate.Value {
	return &substate.Value{Data: codec.NewWriter(64).Strings(set.Strings()).Bytes()}
}

// NewVault creates an empty vault of resource owned by the current frame.
func NewVault(api kernel.API, resource ids.NodeId) (ids.NodeId, error) {
	return oneOwned(api.Invoke(kernel.Function(vaultBlueprint, "new"), &substate.Value{Refs: []ids.NodeId{resource}}))
}

// NewBucket creates an empty bucket of resource owned by the current frame.
func NewBucket(api kernel.API, resource ids.NodeId) (ids.NodeId, error) {
	return oneOwned(api.Invoke(kernel.Function(bucketBlueprint, "new"), &substate.Value{Refs: []ids.NodeId{resource}}))
}

// Put moves an owned bucket into a container.
func Put(api kernel.API, container, bucket ids.NodeId) error {
	_, err := callContainer(api, container, "put", &substate.Value{Owns: []ids.NodeId{bucket}})
	return err
}

// Take moves amount out of a container into a new bucket.
func Take(api kernel.API, container ids.NodeId, amount decimal.Decimal) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "take", amountArgs(amount)))
}

// TakeIds moves non-fungible ids out of a container into a new bucket.
func TakeIds(api kernel.API, container ids.NodeId, set IdSet) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "take_ids", idsArgs(set)))
}

// TakeAll moves the free balance of a container into a new bucket.
func TakeAll(api kernel.API, container ids.NodeId) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "take_all", nil))
}

// Amount returns the total held by a container.
func Amount(api kernel.API, container ids.NodeId) (decimal.Decimal, error) {
	out, err := callContainer(api, container, "amount", nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decodeAmount(out)
}

// Ids returns the non-fungible ids held by a container.
func Ids(api kernel.API, container ids.NodeId) (IdSet, error) {
	out, err := callContainer(api, container, "ids", nil)
	if err != nil {
		return IdSet{}, err
	}
	return decodeIds(out)
}

// CreateProofOfAll locks the free balance of a container into a proof.
func CreateProofOfAll(api kernel.API, container ids.NodeId) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "create_proof_of_all", nil))
}

// CreateProofByAmount locks amount of a container into a proof.
func CreateProofByAmount(api kernel.API, container ids.NodeId, amount decimal.Decimal) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "create_proof_by_amount", amountArgs(amount)))
}

// CreateProofByIds locks ids of a container into a proof.
func CreateProofByIds(api kernel.API, container ids.NodeId, set IdSet) (ids.NodeId, error) {
	return oneOwned(callContainer(api, container, "create_proof_by_ids", idsArgs(set)))
}

// DropEmptyBucket destroys an owned empty bucket.
func DropEmptyBucket(api kernel.API, bucket ids.NodeId) error {
	_, err := api.Invoke(kernel.Function(bucketBlueprint, "drop_empty"), &substate.Value{Owns: []ids.NodeId{bucket}})
	return err
}

// CloneProof creates a proof sharing the locks of proof.
func CloneProof(api kernel.API, proof ids.NodeId) (ids.NodeId, error) {
	return oneOwned(api.Invoke(kernel.Method(proof, proofBlueprint, "clone"), nil))
}

// ProofAmount returns the amount a proof proves.
func ProofAmount(api kernel.API, proof ids.NodeId) (decimal.Decimal, error) {
	out, err := api.Invoke(kernel.Method(proof, proofBlueprint, "amount"), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decodeAmount(out)
}

// ProofIds returns the ids a non-fungible proof proves.
func ProofIds(api kernel.API, proof ids.NodeId) (IdSet, error) {
	out, err := api.Invoke(kernel.Method(proof, proofBlueprint, "ids"), nil)
	if err != nil {
		return IdSet{}, err
	}
	return decodeIds(out)
}

// DropProof releases an owned proof.
func DropProof(api kernel.API, proof ids.NodeId) error {
	_, err := api.Invoke(kernel.Function(proofBlueprint, "drop"), &substate.Value{Owns: []ids.NodeId{proof}})
	return err
}

// CreateResource creates a resource manager. The initial supply, if any,
// is returned in a bucket owned by the current frame.
func CreateResource(api kernel.API, p *CreateParams) (ids.NodeId, ids.NodeId, error) {
	out, err := api.Invoke(kernel.Function(managerBlueprint, "create"), &substate.Value{Data: p.Encode()})
	if err != nil {
		return ids.NodeId{}, ids.NodeId{}, err
	}
	if len(out.Refs) != 1 {
		return ids.NodeId{}, ids.NodeId{}, fmt.Errorf("%w: create returned %d refs", ErrInvalidArgs, len(out.Refs))
	}

	var bucket ids.NodeId
	if len(out.Owns) == 1 {
		bucket = out.Owns[0]
	}

	return out.Refs[0], bucket, nil
}

// Mint mints fungible amount or non-fungible entries of resource.
func Mint(api kernel.API, resource ids.NodeId, amount decimal.Decimal, entries []NonFungibleEntry) (ids.NodeId, error) {
	return oneOwned(api.Invoke(kernel.Method(resource, managerBlueprint, "mint"), &substate.Value{Data: EncodeMintArgs(amount, entries)}))
}

// Burn destroys an owned bucket of resource.
func Burn(api kernel.API, resource, bucket ids.NodeId) error {
	_, err := api.Invoke(kernel.Method(resource, managerBlueprint, "burn"), &substate.Value{Owns: []ids.NodeId{bucket}})
	return err
}

// TotalSupply returns the supply of resource.
func TotalSupply(api kernel.API, resource ids.NodeId) (decimal.Decimal, error) {
	out, err := api.Invoke(kernel.Method(resource, managerBlueprint, "total_supply"), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decodeAmount(out)
}

// NonFungibleData returns the data stored for one id of resource.
func NonFungibleData(api kernel.API, resource ids.NodeId, id LocalId) ([]byte, error) {
	args := &substate.Value{Data: codec.NewWriter(16).String(id.String()).Bytes()}
	out, err := api.Invoke(kernel.Method(resource, managerBlueprint, "non_fungible_data"), args)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ResourceOf returns the resource held by a visible container.
func ResourceOf(api kernel.API, container ids.NodeId) (ids.NodeId, error) {
	if _, err := blueprintOf(container); err != nil {
		return ids.NodeId{}, err
	}

	l, err := readBalance(api, container)
	if err != nil {
		return ids.NodeId{}, err
	}
	return l.Resource, nil
}
