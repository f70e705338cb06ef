package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/account"
)

var owner = common.HexToAddress("0xAA00000000000000000000000000000000000000")

func TestAppendAndRecent(t *testing.T) {
	j, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	j.Publish(owner, account.DepositEvent{Amount: 100})
	j.Publish(owner, account.WithdrawEvent{Amount: 40})
	j.Publish(owner, account.OrderFilledEvent{ID: 3, FillPrice: 10_000, KeeperFee: 50})

	if got := j.Len(); got != 3 {
		t.Errorf("len = %d, want 3", got)
	}

	recent, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent returned %d records, want 2", len(recent))
	}
	// Newest first
	if recent[0].Name != "order_filled" || recent[1].Name != "withdraw" {
		t.Errorf("order = [%s, %s], want [order_filled, withdraw]", recent[0].Name, recent[1].Name)
	}
	if recent[0].Seq != 2 || recent[0].Owner != owner {
		t.Errorf("record = %+v", recent[0])
	}

	var fill account.OrderFilledEvent
	if err := json.Unmarshal(recent[0].Body, &fill); err != nil {
		t.Fatalf("body decode: %v", err)
	}
	if fill.ID != 3 || fill.FillPrice != 10_000 {
		t.Errorf("fill = %+v", fill)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	j, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j.Publish(owner, account.DepositEvent{Amount: 1})
	j.Publish(owner, account.DepositEvent{Amount: 2})
	j.Close()

	j, err = Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()

	if got := j.Len(); got != 2 {
		t.Fatalf("len after reopen = %d, want 2", got)
	}
	j.Publish(owner, account.DepositEvent{Amount: 3})

	recent, _ := j.Recent(1)
	if len(recent) != 1 || recent[0].Seq != 2 {
		t.Errorf("recent = %+v, want seq 2", recent)
	}
}

func TestRecentOnEmptyJournal(t *testing.T) {
	j, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("recent on empty journal = %+v", recent)
	}
}
