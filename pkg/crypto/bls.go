package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

// Keeper trigger authentication. The automation network holds one BLS
// identity per deployment; inbound trigger calls carry a signature over the
// trigger payload which the account host verifies before dispatching to
// ExecuteConditionalOrder.

type scheme = bls.KeyG1SigG2

type KeeperPubKey = bls.PublicKey[scheme]

type KeeperSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *KeeperPubKey
}

func NewKeeperSignerFromSeed(seed []byte) *KeeperSigner {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	return &KeeperSigner{sk: sk, pk: sk.PublicKey()}
}

func (s *KeeperSigner) PubKey() *KeeperPubKey { return s.pk }

func (s *KeeperSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func VerifyKeeper(pk *KeeperPubKey, sigBytes, msg []byte) bool {
	if pk == nil || len(sigBytes) == 0 {
		return false
	}
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}
