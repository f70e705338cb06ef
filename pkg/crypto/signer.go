package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Owner capability check for command batches submitted over the wire: the
// caller signs a keccak digest of the batch with the account owner's key and
// the server recovers the signer address. The account is not chain-deployed,
// so there is no typed-data domain; the digest binds owner, nonce and the
// exact command payloads.

// BatchDigest returns the keccak256 digest a caller must sign to submit a
// command batch on behalf of owner.
func BatchDigest(owner common.Address, nonce uint64, kinds []uint8, inputs [][]byte) []byte {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)

	parts := make([][]byte, 0, 2+len(kinds)+len(inputs))
	parts = append(parts, owner.Bytes(), nb[:])
	for _, k := range kinds {
		parts = append(parts, []byte{k})
	}
	for _, in := range inputs {
		var lb [8]byte
		binary.BigEndian.PutUint64(lb[:], uint64(len(in)))
		parts = append(parts, lb[:], in)
	}
	return ethcrypto.Keccak256(parts...)
}

// SignDigest produces a 65-byte [R || S || V] signature over digest.
func SignDigest(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(digest, key)
}

// RecoverSigner returns the address that produced the signature over digest.
func RecoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Normalize V from 27/28 to 0/1 (wallet convention)
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
