package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpdesk/smartmargin/pkg/automation"
	smcrypto "github.com/perpdesk/smartmargin/pkg/crypto"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// ManagerConfig wires the shared collaborators every provisioned account
// uses: settings, persistence, the automation network, and the per-owner
// market adapter factory.
type ManagerConfig struct {
	Settings  *Settings
	Store     *Store
	Tasks     automation.Adapter
	KeeperPub *smcrypto.KeeperPubKey // nil disables BLS trigger auth
	NewMarket func(owner common.Address) market.Adapter
	Allowance AllowanceProvider
	Swapper   SwapProvider
	Sinks     []Sink
	Log       *zap.SugaredLogger
}

// Manager provisions and indexes accounts, one per owner, and is the
// authenticated inbound surface for keeper triggers.
type Manager struct {
	mu       sync.RWMutex
	cfg      ManagerConfig
	log      *zap.SugaredLogger
	accounts map[common.Address]*Account
}

func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Settings == nil {
		cfg.Settings = &Settings{}
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		accounts: make(map[common.Address]*Account),
	}
}

// Account returns the owner's account, provisioning it (and loading any
// persisted state) on first use.
func (m *Manager) Account(owner common.Address) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct, ok := m.accounts[owner]; ok {
		return acct, nil
	}

	var mkt market.Adapter
	if m.cfg.NewMarket != nil {
		mkt = m.cfg.NewMarket(owner)
	}
	acct := New(Config{
		Owner:     owner,
		Settings:  m.cfg.Settings,
		Market:    mkt,
		Tasks:     m.cfg.Tasks,
		Allowance: m.cfg.Allowance,
		Swapper:   m.cfg.Swapper,
		Store:     m.cfg.Store,
		Sinks:     m.cfg.Sinks,
		Log:       m.log,
	})

	if m.cfg.Store != nil {
		st, err := m.cfg.Store.LoadState(owner)
		if err != nil {
			m.log.Errorw("account_load_failed", "owner", owner.Hex(), "err", err)
		} else if st != nil {
			acct.restore(*st)
			// Re-register persisted tasks so the keeper table survives a
			// restart.
			if m.cfg.Tasks != nil {
				for _, o := range st.Orders {
					if err := m.cfg.Tasks.RegisterTask(automation.Task{
						Handle:  o.TaskHandle,
						Account: owner,
						OrderID: o.ID,
					}); err != nil {
						m.log.Warnw("task_reregister_failed", "order_id", o.ID, "err", err)
					}
				}
			}
		}
	}

	m.accounts[owner] = acct
	m.log.Infow("account_provisioned", "owner", owner.Hex())
	return acct, nil
}

// Restore provisions every account persisted in the store, re-registering
// pending orders' keeper tasks. Called once at startup so a restart leaves no
// order unmonitored while its owner stays idle. Returns the number of
// accounts restored.
func (m *Manager) Restore() (int, error) {
	if m.cfg.Store == nil {
		return 0, nil
	}
	owners, err := m.cfg.Store.Owners()
	if err != nil {
		return 0, fmt.Errorf("scan persisted accounts: %w", err)
	}
	for _, owner := range owners {
		if _, err := m.Account(owner); err != nil {
			return 0, fmt.Errorf("restore account %s: %w", owner.Hex(), err)
		}
	}
	return len(owners), nil
}

// Lookup returns an already-provisioned account without creating one.
func (m *Manager) Lookup(owner common.Address) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[owner]
	return acct, ok
}

// Count returns the number of provisioned accounts.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// TransferOwnership moves the single owner capability. Only the current
// owner may transfer it.
func (m *Manager) TransferOwnership(caller, next common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[caller]
	if !ok {
		return fmt.Errorf("account for %s not provisioned", caller.Hex())
	}
	if acct.Owner() != caller {
		return ErrUnauthorized
	}
	if _, taken := m.accounts[next]; taken {
		return fmt.Errorf("address %s already owns an account", next.Hex())
	}

	acct.transferOwnership(next)
	delete(m.accounts, caller)
	m.accounts[next] = acct
	m.log.Infow("ownership_transferred", "previous", caller.Hex(), "next", next.Hex())
	return nil
}

// Checker implements automation.Inbound.
func (m *Manager) Checker(owner common.Address, orderID uint64) (bool, []byte) {
	acct, ok := m.Lookup(owner)
	if !ok {
		return false, nil
	}
	return acct.Checker(orderID)
}

// HandleTrigger implements automation.Inbound: it verifies the keeper's BLS
// signature over the trigger payload, then dispatches to the account's
// automation-only execution entry point.
func (m *Manager) HandleTrigger(ctx context.Context, owner common.Address, orderID uint64, sig []byte) error {
	if m.cfg.KeeperPub != nil {
		digest := automation.TriggerDigest(owner, orderID)
		if !smcrypto.VerifyKeeper(m.cfg.KeeperPub, sig, digest) {
			return ErrUnauthorized
		}
	}

	acct, ok := m.Lookup(owner)
	if !ok {
		return fmt.Errorf("account for %s not provisioned", owner.Hex())
	}
	if m.cfg.Tasks == nil {
		return ErrUnauthorized
	}
	return acct.ExecuteConditionalOrder(ctx, m.cfg.Tasks.Caller(), orderID)
}
