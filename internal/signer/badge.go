package signer

import (
	"OwnLedger/internal/ids"
	"OwnLedger/internal/resource"
)

// BadgeOf returns the signer badge id proven by a key. It is derived from
// the virtual account address of the key, so an account can name the
// badge of its owner.
func BadgeOf(publicKey []byte) resource.LocalId {
	return AccountBadge(ids.VirtualAccount(publicKey))
}

// AccountBadge returns the badge id owning a virtual account.
func AccountBadge(account ids.NodeId) resource.LocalId {
	return resource.BytesId(account[1:])
}

// Badges returns the badge set of a transaction's signers.
func Badges(publicKeys [][]byte) resource.IdSet {
	set := resource.NewIdSet()
	for _, pk := range publicKeys {
		set.Add(BadgeOf(pk))
	}
	return set
}
