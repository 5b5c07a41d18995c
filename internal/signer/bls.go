// Package signer holds the BLS keys that sign transactions and maps each
// signer to the badge it proves in the root auth zone.
package signer

import (
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	// PublicKeySize is the size of a compressed public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed signature in bytes.
	SignatureSize = 96
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidKey is returned for malformed public keys or seeds.
	ErrInvalidKey = errors.New("invalid key")

	// ErrNoSigners is returned for a transaction without signers.
	ErrNoSigners = errors.New("no signers")
)

// dst is the domain separation tag for transaction signatures.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair holds a BLS private/public key pair.
type KeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// GenerateKey creates a key pair from a random seed.
func GenerateKey() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return KeyFromSeed(ikm[:])
}

// KeyFromSeed derives a key pair from a seed of at least 32 bytes.
func KeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("%w: seed must be at least 32 bytes", ErrInvalidKey)
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("%w: key generation failed", ErrInvalidKey)
	}

	return &KeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// Sign signs a message, usually a transaction hash.
func (k *KeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, dst).Compress()
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// Verify checks a signature against a message and public key.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, dst)
}

// Aggregate combines signatures over the same message into one.
func Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, ErrNoSigners
	}

	sigs := make([]*blst.P2Affine, len(signatures))
	for i, b := range signatures {
		if len(b) != SignatureSize {
			return nil, fmt.Errorf("%w: size at index %d", ErrInvalidSignature, i)
		}
		if sigs[i] = new(blst.P2Affine).Uncompress(b); sigs[i] == nil {
			return nil, fmt.Errorf("%w: index %d", ErrInvalidSignature, i)
		}
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("%w: aggregation failed", ErrInvalidSignature)
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated checks one aggregated signature of message by every key.
func VerifyAggregated(signature, message []byte, publicKeys [][]byte) bool {
	if len(signature) != SignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))
	for i, b := range publicKeys {
		if len(b) != PublicKeySize {
			return false
		}
		if pks[i] = new(blst.P1Affine).Uncompress(b); pks[i] == nil {
			return false
		}
	}

	agg := new(blst.P1Aggregate)
	if !agg.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, agg.ToAffine(), true, message, dst)
}

// VerifyAll checks the signatures of a transaction hash. Either every
// signer has its own signature, or a single aggregated signature covers
// all of them.
func VerifyAll(hash []byte, publicKeys, signatures [][]byte) error {
	if len(publicKeys) == 0 {
		return ErrNoSigners
	}

	if len(signatures) == 1 && len(publicKeys) > 1 {
		if !VerifyAggregated(signatures[0], hash, publicKeys) {
			return fmt.Errorf("%w: aggregated", ErrInvalidSignature)
		}
		return nil
	}

	if len(signatures) != len(publicKeys) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrInvalidSignature, len(signatures), len(publicKeys))
	}

	for i, pk := range publicKeys {
		if !Verify(signatures[i], hash, pk) {
			return fmt.Errorf("%w: signer %d", ErrInvalidSignature, i)
		}
	}

	return nil
}
