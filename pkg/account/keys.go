package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so one account's records scan as a range;
// order ids are zero-padded for lexicographic ordering.
const (
	prefixAccount = "acct:"
	prefixOrder   = "cord:"
	prefixNonce   = "nonc:"
)

// accountKey: "acct:{address}"
func accountKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAccount, owner.Hex()))
}

// orderKey: "cord:{address}:{id padded to 20 digits}"
func orderKey(owner common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, owner.Hex(), id))
}

// orderPrefix: "cord:{address}:" for range scans over one account's orders.
func orderPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, owner.Hex()))
}

// nonceKey: "nonc:{address}"
func nonceKey(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, owner.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
