package main

import (
	"encoding/json"
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/perpdesk/smartmargin/pkg/account"
	smcrypto "github.com/perpdesk/smartmargin/pkg/crypto"
)

// Demonstrates signing a command batch for POST /api/v1/batch: generate a
// key, build a deposit + place-conditional-order batch, sign its digest and
// print the ready-to-submit JSON.
func main() {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	owner := ethcrypto.PubkeyToAddress(key.PublicKey)

	fmt.Printf("Address: %s\n", owner.Hex())
	fmt.Printf("Private Key: %x (KEEP SECRET!)\n\n", ethcrypto.FromECDSA(key))

	deposit, _ := json.Marshal(account.AmountParams{Amount: 1_000_00})
	place, _ := json.Marshal(account.PlaceConditionalOrderParams{
		Market:           "BTC-PERP",
		MarginDelta:      500_00,
		SizeDelta:        10,
		TargetPrice:      64_000_00,
		OrderType:        uint8(account.Limit),
		DesiredFillPrice: 64_100_00,
	})

	kinds := []uint8{uint8(account.CmdDeposit), uint8(account.CmdPlaceConditionalOrder)}
	inputs := [][]byte{deposit, place}
	nonce := uint64(1)

	digest := smcrypto.BatchDigest(owner, nonce, kinds, inputs)
	sig, err := smcrypto.SignDigest(digest, key)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Digest: 0x%x\n", digest)
	fmt.Printf("Signature: 0x%x\n\n", sig)

	// Sanity check: recover and compare
	signer, err := smcrypto.RecoverSigner(digest, sig)
	if err != nil {
		fmt.Printf("Error recovering: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recovered signer: %s (matches: %v)\n\n", signer.Hex(), signer == owner)

	req := map[string]any{
		"owner":     owner.Hex(),
		"nonce":     nonce,
		"kinds":     kinds,
		"inputs":    []json.RawMessage{deposit, place},
		"signature": fmt.Sprintf("0x%x", sig),
	}
	body, _ := json.MarshalIndent(req, "", "  ")

	fmt.Println("To submit this batch:")
	fmt.Println("  POST http://localhost:8080/api/v1/batch")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}
