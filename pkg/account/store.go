package account

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// Store persists account state and conditional orders in Pebble. One unit of
// work maps to one batch commit, so durable state never reflects a partially
// applied batch.
type Store struct {
	db *pebble.DB
}

func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		MaxOpenFiles:          500,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// accountRecord is the durable shape of the ledger.
type accountRecord struct {
	Owner           common.Address `json:"owner"`
	Balance         int64          `json:"balance"`
	CommittedMargin int64          `json:"committed_margin"`
	NativeBalance   int64          `json:"native_balance"`
	NextOrderID     uint64         `json:"next_order_id"`
}

// orderRecord is the durable shape of one Pending conditional order.
type orderRecord struct {
	ID               uint64 `json:"id"`
	Market           string `json:"market"`
	MarginDelta      int64  `json:"margin_delta"`
	SizeDelta        int64  `json:"size_delta"`
	TargetPrice      int64  `json:"target_price"`
	OrderType        int8   `json:"order_type"`
	DesiredFillPrice int64  `json:"desired_fill_price"`
	ReduceOnly       bool   `json:"reduce_only"`
	TaskHandle       string `json:"task_handle"`
}

// SaveState writes the account record, upserts every Pending order and
// deletes terminal ones, all in one atomic batch.
func (s *Store) SaveState(st *state, removedOrders []uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := s.writeState(batch, st, removedOrders); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// TransferState re-keys an account's durable records from prev to the state's
// current owner. The previous owner's account record and order range are
// purged in the same batch that writes the new ones, so no point-in-time view
// of the store ever holds the balance under both addresses.
func (s *Store) TransferState(prev common.Address, st *state) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(accountKey(prev), nil); err != nil {
		return err
	}
	oldOrders := orderPrefix(prev)
	if err := batch.DeleteRange(oldOrders, keyUpperBound(oldOrders), nil); err != nil {
		return err
	}
	if err := s.writeState(batch, st, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *Store) writeState(batch *pebble.Batch, st *state, removedOrders []uint64) error {
	acc, err := json.Marshal(accountRecord{
		Owner:           st.Owner,
		Balance:         st.Balance,
		CommittedMargin: st.CommittedMargin,
		NativeBalance:   st.NativeBalance,
		NextOrderID:     st.NextOrderID,
	})
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := batch.Set(accountKey(st.Owner), acc, nil); err != nil {
		return err
	}

	for id, o := range st.Orders {
		rec, err := json.Marshal(orderRecord{
			ID:               o.ID,
			Market:           string(o.MarketKey),
			MarginDelta:      o.MarginDelta,
			SizeDelta:        o.SizeDelta,
			TargetPrice:      o.TargetPrice,
			OrderType:        int8(o.Type),
			DesiredFillPrice: o.DesiredFillPrice,
			ReduceOnly:       o.ReduceOnly,
			TaskHandle:       hex.EncodeToString(o.TaskHandle[:]),
		})
		if err != nil {
			return fmt.Errorf("marshal order %d: %w", id, err)
		}
		if err := batch.Set(orderKey(st.Owner, id), rec, nil); err != nil {
			return err
		}
	}
	for _, id := range removedOrders {
		if err := batch.Delete(orderKey(st.Owner, id), nil); err != nil {
			return err
		}
	}
	return nil
}

// Owners scans the account record range and returns every persisted owner.
// Used at startup to re-provision accounts before any caller touches them.
func (s *Store) Owners() ([]common.Address, error) {
	prefix := []byte(prefixAccount)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	defer iter.Close()

	var owners []common.Address
	for iter.First(); iter.Valid(); iter.Next() {
		var rec accountRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // skip corrupt entries
		}
		owners = append(owners, rec.Owner)
	}
	return owners, nil
}

// Nonce returns the highest accepted request nonce for an owner, if any.
func (s *Store) Nonce(owner common.Address) (uint64, bool) {
	data, closer, err := s.db.Get(nonceKey(owner))
	if err != nil {
		return 0, false
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// SetNonce durably records the highest accepted request nonce for an owner.
func (s *Store) SetNonce(owner common.Address, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return s.db.Set(nonceKey(owner), buf[:], pebble.Sync)
}

// LoadState loads an account and its Pending orders. Returns nil when the
// account has never been persisted.
func (s *Store) LoadState(owner common.Address) (*state, error) {
	data, closer, err := s.db.Get(accountKey(owner))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	defer closer.Close()

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}

	st := &state{
		Owner:           rec.Owner,
		Balance:         rec.Balance,
		CommittedMargin: rec.CommittedMargin,
		NativeBalance:   rec.NativeBalance,
		NextOrderID:     rec.NextOrderID,
		Orders:          make(map[uint64]*ConditionalOrder),
	}

	prefix := orderPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var or orderRecord
		if err := json.Unmarshal(iter.Value(), &or); err != nil {
			continue // skip corrupt entries
		}
		o := &ConditionalOrder{
			ID:               or.ID,
			MarketKey:        market.Key(or.Market),
			MarginDelta:      or.MarginDelta,
			SizeDelta:        or.SizeDelta,
			TargetPrice:      or.TargetPrice,
			Type:             OrderType(or.OrderType),
			DesiredFillPrice: or.DesiredFillPrice,
			ReduceOnly:       or.ReduceOnly,
		}
		if hb, err := hex.DecodeString(or.TaskHandle); err == nil && len(hb) == len(o.TaskHandle) {
			copy(o.TaskHandle[:], hb)
		} else {
			o.TaskHandle = automation.DeriveHandle(owner, or.ID)
		}
		st.Orders[or.ID] = o
	}

	return st, nil
}
