package resource

import "OwnLedger/internal/kernel"

// Package groups the blueprints allowed to mutate vaults, buckets, proofs
// and resource managers.
const Package = "resource"

// Register installs the Vault, Bucket, Proof and ResourceManager
// blueprints. auth evaluates the mint and burn rules of managers.
func Register(reg *kernel.Registry, auth Authorizer) {
	reg.Package(Package, vaultBlueprint, bucketBlueprint, proofBlueprint, managerBlueprint)

	for _, bp := range []string{vaultBlueprint, bucketBlueprint} {
		reg.Register(bp, "put", put)
		reg.Register(bp, "take", take)
		reg.Register(bp, "take_ids", takeIds)
		reg.Register(bp, "take_all", takeAll)
		reg.Register(bp, "amount", containerAmount)
		reg.Register(bp, "ids", listIds)
		reg.Register(bp, "create_proof_of_all", createProofOfAll)
		reg.Register(bp, "create_proof_by_amount", createProofByAmount)
		reg.Register(bp, "create_proof_by_ids", createProofByIds)
	}

	reg.Register(vaultBlueprint, "new", newVault)
	reg.Register(bucketBlueprint, "new", newBucket)
	reg.Register(bucketBlueprint, "drop_empty", dropEmpty)

	reg.Register(proofBlueprint, "clone", cloneProof)
	reg.Register(proofBlueprint, "amount", proofAmount)
	reg.Register(proofBlueprint, "ids", proofIds)
	reg.Register(proofBlueprint, "drop", dropProof)

	m := &manager{auth: auth}
	reg.Register(managerBlueprint, "create", m.create)
	reg.Register(managerBlueprint, "mint", m.mint)
	reg.Register(managerBlueprint, "burn", m.burn)
	reg.Register(managerBlueprint, "total_supply", m.totalSupply)
	reg.Register(managerBlueprint, "non_fungible_data", m.nonFungibleData)
}
