package crypto

import (
	"bytes"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestBatchSignRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	kinds := []uint8{0, 11}
	inputs := [][]byte{[]byte(`{"amount":100}`), []byte(`{"market":"BTC-PERP"}`)}
	digest := BatchDigest(owner, 1, kinds, inputs)

	sig, err := SignDigest(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != owner {
		t.Errorf("recovered %s, want %s", signer.Hex(), owner.Hex())
	}
}

func TestRecoverNormalizesV(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)
	digest := BatchDigest(owner, 7, nil, nil)

	sig, _ := SignDigest(digest, key)
	// Wallets emit V as 27/28
	walletSig := make([]byte, 65)
	copy(walletSig, sig)
	walletSig[64] += 27

	signer, err := RecoverSigner(digest, walletSig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != owner {
		t.Errorf("recovered %s, want %s", signer.Hex(), owner.Hex())
	}
}

func TestRecoverRejectsBadLength(t *testing.T) {
	if _, err := RecoverSigner(make([]byte, 32), []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
}

func TestDigestBindsEveryField(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	base := BatchDigest(owner, 1, []uint8{0}, [][]byte{[]byte("a")})
	variants := [][]byte{
		BatchDigest(owner, 2, []uint8{0}, [][]byte{[]byte("a")}),
		BatchDigest(owner, 1, []uint8{1}, [][]byte{[]byte("a")}),
		BatchDigest(owner, 1, []uint8{0}, [][]byte{[]byte("b")}),
	}
	for i, v := range variants {
		if bytes.Equal(base, v) {
			t.Errorf("variant %d collides with base digest", i)
		}
	}
}

func TestKeeperSignVerify(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 1
	signer := NewKeeperSignerFromSeed(seed)

	msg := []byte("trigger payload")
	sig := signer.Sign(msg)

	if !VerifyKeeper(signer.PubKey(), sig, msg) {
		t.Error("valid signature rejected")
	}
	if VerifyKeeper(signer.PubKey(), sig, []byte("other payload")) {
		t.Error("signature accepted for a different message")
	}

	otherSeed := make([]byte, 32)
	otherSeed[0] = 2
	other := NewKeeperSignerFromSeed(otherSeed)
	if VerifyKeeper(other.PubKey(), sig, msg) {
		t.Error("signature accepted under a different key")
	}

	if VerifyKeeper(nil, sig, msg) {
		t.Error("nil public key accepted")
	}
	if VerifyKeeper(signer.PubKey(), nil, msg) {
		t.Error("empty signature accepted")
	}
}

func TestKeeperSignerDeterministicFromSeed(t *testing.T) {
	seed := make([]byte, 32)
	seed[5] = 9
	a := NewKeeperSignerFromSeed(seed)
	b := NewKeeperSignerFromSeed(seed)

	msg := []byte("m")
	if !VerifyKeeper(b.PubKey(), a.Sign(msg), msg) {
		t.Error("same seed must derive the same keypair")
	}
}
