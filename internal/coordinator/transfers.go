package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/golden-h/novelrelay/internal/chunk"
	"github.com/golden-h/novelrelay/internal/protocol"
)

// Transfer is a chunked payload in flight from one sender tab.
type Transfer struct {
	Sender   string
	Assembly *chunk.Assembly
	Started  time.Time
	Updated  time.Time
}

// TransferInfo is the reportable part of a Transfer.
type TransferInfo struct {
	Sender     string    `json:"sender"`
	Total      int       `json:"total"`
	Received   int       `json:"received"`
	Deliveries int       `json:"deliveries"`
	Missing    []int     `json:"missing,omitempty"`
	Started    time.Time `json:"started"`
	Updated    time.Time `json:"updated"`
}

// Transfers keeps at most one transfer per sender.
type Transfers struct {
	mu  sync.Mutex
	m   map[string]*Transfer
	now func() time.Time
}

func NewTransfers() *Transfers {
	return &Transfers{m: make(map[string]*Transfer), now: time.Now}
}

// Part stores one part. Parts may arrive in any order and may be
// redelivered; a redelivered part overwrites its slot. An unknown sender or
// a different declared total starts a new transfer, replacing any earlier
// one from the same sender. A part with a bad index never touches the
// stored transfer.
func (t *Transfers) Part(sender string, index, total int, data string) (TransferInfo, error) {
	if total <= 0 {
		return TransferInfo{}, protocol.Errorf(protocol.CodeInvalidChunkState, "total chunks %d", total)
	}
	if index < 0 || index >= total {
		return TransferInfo{}, protocol.Errorf(protocol.CodeOutOfRange, "chunk index %d outside [0, %d)", index, total)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	tr, ok := t.m[sender]
	if !ok || tr.Assembly.Total() != total {
		tr = &Transfer{Sender: sender, Assembly: chunk.Start(total), Started: now, Updated: now}
		t.m[sender] = tr
	}
	if err := tr.Assembly.Add(index, data); err != nil {
		return info(tr), err
	}
	tr.Updated = now
	return info(tr), nil
}

// Assemble joins the sender's parts when all total of them are in. The
// transfer is kept until Drop so a failed delivery can be retried.
func (t *Transfers) Assemble(sender string, total int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.m[sender]
	if !ok {
		return "", protocol.Errorf(protocol.CodeInvalidChunkState, "no transfer in progress from %s", sender)
	}
	if tr.Assembly.Total() != total {
		return "", protocol.Errorf(protocol.CodeInvalidChunkState, "completion declares %d parts, transfer has %d", total, tr.Assembly.Total())
	}
	text, err := tr.Assembly.Assemble()
	if err != nil {
		return "", protocol.Wrap(protocol.CodeInvalidChunkState, err)
	}
	return text, nil
}

func (t *Transfers) Drop(sender string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[sender]
	delete(t.m, sender)
	return ok
}

// Sweep removes transfers with no part for longer than maxAge.
func (t *Transfers) Sweep(now time.Time, maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, tr := range t.m {
		if now.Sub(tr.Updated) > maxAge {
			delete(t.m, k)
			n++
		}
	}
	return n
}

func (t *Transfers) Snapshot() []TransferInfo {
	t.mu.Lock()
	out := make([]TransferInfo, 0, len(t.m))
	for _, tr := range t.m {
		out = append(out, info(tr))
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out
}

func info(tr *Transfer) TransferInfo {
	return TransferInfo{
		Sender:     tr.Sender,
		Total:      tr.Assembly.Total(),
		Received:   tr.Assembly.Received(),
		Deliveries: tr.Assembly.Deliveries(),
		Missing:    tr.Assembly.Missing(),
		Started:    tr.Started,
		Updated:    tr.Updated,
	}
}
