package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpdesk/smartmargin/pkg/account"
)

// Record is one journaled account event. Body is the event struct marshalled
// to JSON so downstream consumers can decode it without the Go types.
type Record struct {
	Seq    uint64
	UnixMs int64
	Owner  common.Address
	Name   string
	Body   []byte
}

// Journal is an append-only event log in Pebble, keyed by big-endian
// sequence number so records iterate in write order. It implements
// account.Sink.
type Journal struct {
	mu   sync.Mutex
	db   *pebble.DB
	log  *zap.SugaredLogger
	next uint64
	now  func() time.Time
}

func Open(path string, log *zap.SugaredLogger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal db at %s: %w", path, err)
	}
	j := &Journal{db: db, log: log, now: time.Now}
	j.next, err = j.lastSeq()
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// keys: e:<8-byte-seq>
func recordKey(seq uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, "e:")
	binary.BigEndian.PutUint64(k[2:], seq)
	return k
}

func (j *Journal) lastSeq() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("e:"),
		UpperBound: []byte("e;"),
	})
	if err != nil {
		return 0, fmt.Errorf("seek journal tail: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, nil
	}
	return binary.BigEndian.Uint64(iter.Key()[2:]) + 1, nil
}

// Publish implements account.Sink. Journal writes are best effort: a failed
// append is logged, never surfaced to the ledger path.
func (j *Journal) Publish(owner common.Address, ev account.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		j.log.Errorw("journal_marshal_failed", "event", ev.Name(), "err", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	rec := Record{
		Seq:    j.next,
		UnixMs: j.now().UnixMilli(),
		Owner:  owner,
		Name:   ev.Name(),
		Body:   body,
	}
	val, err := encodeGob(rec)
	if err != nil {
		j.log.Errorw("journal_encode_failed", "event", ev.Name(), "err", err)
		return
	}
	if err := j.db.Set(recordKey(rec.Seq), val, pebble.NoSync); err != nil {
		j.log.Errorw("journal_append_failed", "event", ev.Name(), "err", err)
		return
	}
	j.next++
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("e:"),
		UpperBound: []byte("e;"),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	defer iter.Close()

	var out []Record
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var rec Record
		if err := decodeGob(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the next sequence number, i.e. the count of appended records.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
