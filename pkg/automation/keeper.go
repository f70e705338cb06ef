package automation

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpdesk/smartmargin/pkg/crypto"
)

// Inbound is the account-host surface the keeper drives: a read-only
// eligibility check and the authenticated trigger entry point.
type Inbound interface {
	Checker(owner common.Address, orderID uint64) (bool, []byte)
	HandleTrigger(ctx context.Context, owner common.Address, orderID uint64, sig []byte) error
}

// Keeper is an in-process automation network: it keeps a task table, polls
// each task's checker, and triggers execution with a BLS-signed payload.
// Task registrations are optionally gossiped so external keepers can mirror
// the table.
type Keeper struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	caller  common.Address
	signer  *crypto.KeeperSigner
	inbound Inbound
	gossip  *Gossip
	tasks   map[TaskHandle]Task
}

func NewKeeper(caller common.Address, signer *crypto.KeeperSigner, log *zap.SugaredLogger) *Keeper {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Keeper{
		log:    log,
		caller: caller,
		signer: signer,
		tasks:  make(map[TaskHandle]Task),
	}
}

// SetInbound wires the account host. Separate from the constructor because
// the host needs the keeper's caller identity first.
func (k *Keeper) SetInbound(in Inbound) { k.inbound = in }

// SetGossip enables task announcements over the keeper network.
func (k *Keeper) SetGossip(g *Gossip) {
	k.gossip = g
	g.OnAnnounce(k.handleAnnounce)
}

func (k *Keeper) Caller() common.Address { return k.caller }

func (k *Keeper) PubKey() *crypto.KeeperPubKey {
	if k.signer == nil {
		return nil
	}
	return k.signer.PubKey()
}

func (k *Keeper) RegisterTask(t Task) error {
	k.mu.Lock()
	k.tasks[t.Handle] = t
	k.mu.Unlock()

	k.log.Infow("task_registered", "account", t.Account.Hex(), "order_id", t.OrderID)
	if k.gossip != nil {
		k.gossip.Publish(Announce{Registered: true, Task: t})
	}
	return nil
}

func (k *Keeper) CancelTask(h TaskHandle) error {
	k.mu.Lock()
	t, ok := k.tasks[h]
	delete(k.tasks, h)
	k.mu.Unlock()

	if ok {
		k.log.Infow("task_cancelled", "account", t.Account.Hex(), "order_id", t.OrderID)
		if k.gossip != nil {
			k.gossip.Publish(Announce{Registered: false, Task: t})
		}
	}
	return nil
}

// TaskCount returns the number of live tasks.
func (k *Keeper) TaskCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.tasks)
}

// handleAnnounce mirrors task table updates gossiped by peer keepers.
func (k *Keeper) handleAnnounce(a Announce) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if a.Registered {
		k.tasks[a.Task.Handle] = a.Task
	} else {
		delete(k.tasks, a.Task.Handle)
	}
}

// Run polls every task's checker at the given interval and triggers execution
// for eligible orders. A failed trigger stays in the table and is retried on
// the next tick; the account never retries internally.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle over the task table.
func (k *Keeper) Tick(ctx context.Context) {
	if k.inbound == nil {
		return
	}

	k.mu.Lock()
	snapshot := make([]Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		snapshot = append(snapshot, t)
	}
	k.mu.Unlock()

	for _, t := range snapshot {
		eligible, _ := k.inbound.Checker(t.Account, t.OrderID)
		if !eligible {
			continue
		}

		var sig []byte
		if k.signer != nil {
			sig = k.signer.Sign(TriggerDigest(t.Account, t.OrderID))
		}
		if err := k.inbound.HandleTrigger(ctx, t.Account, t.OrderID, sig); err != nil {
			k.log.Warnw("trigger_failed", "account", t.Account.Hex(), "order_id", t.OrderID, "err", err)
			continue
		}
		k.log.Infow("trigger_executed", "account", t.Account.Hex(), "order_id", t.OrderID)
	}
}
