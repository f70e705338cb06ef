package automation

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// TaskHandle identifies one registered automation task.
type TaskHandle [32]byte

// Task binds a conditional order to the automation network: the network
// watches the order's checker and calls back into the account's execution
// entry point when it turns eligible.
type Task struct {
	Handle  TaskHandle
	Account common.Address
	OrderID uint64
}

// Adapter is the external automation (keeper) network contract.
type Adapter interface {
	// Caller is the identity the network uses for inbound trigger calls; the
	// account grants it the execute-only capability.
	Caller() common.Address
	RegisterTask(t Task) error
	CancelTask(h TaskHandle) error
}

// DeriveHandle derives the task handle for an order deterministically, so
// registration can be deferred to commit time without the handle changing.
func DeriveHandle(owner common.Address, orderID uint64) TaskHandle {
	var h TaskHandle
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte("smartmargin-task"))
	hasher.Write(owner.Bytes())
	var ob [8]byte
	binary.BigEndian.PutUint64(ob[:], orderID)
	hasher.Write(ob[:])
	copy(h[:], hasher.Sum(nil))
	return h
}

// TriggerDigest is the payload a keeper signs when triggering an execution.
func TriggerDigest(owner common.Address, orderID uint64) []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte("smartmargin-trigger"))
	hasher.Write(owner.Bytes())
	var ob [8]byte
	binary.BigEndian.PutUint64(ob[:], orderID)
	hasher.Write(ob[:])
	return hasher.Sum(nil)
}
