// Package chunk splits oversized payloads into ordered parts and reassembles
// them from parts that may arrive in any order.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/golden-h/novelrelay/internal/protocol"
)

// DefaultSize is the largest part a page script sends in one envelope.
const DefaultSize = 4000

// Split cuts payload into parts of at most size characters. The last part
// may be shorter. An empty payload has no parts.
func Split(payload string, size int) []string {
	if payload == "" {
		return nil
	}
	if size <= 0 {
		return []string{payload}
	}
	parts := make([]string, 0, utf8.RuneCountInString(payload)/size+1)
	start, n := 0, 0
	for i := range payload {
		if n == size {
			parts = append(parts, payload[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(parts, payload[start:])
}

// Count is the number of parts Split would return.
func Count(payload string, size int) int {
	l := utf8.RuneCountInString(payload)
	if l == 0 {
		return 0
	}
	if size <= 0 {
		return 1
	}
	return (l + size - 1) / size
}

// Assembly collects the parts of one payload.
//
// Completeness is decided by which slots are filled, not by how many parts
// arrived: a redelivered part bumps Deliveries but cannot stand in for a
// missing one.
type Assembly struct {
	slots      []string
	filled     []bool
	received   int
	deliveries int
}

// Start pre-allocates total empty slots.
func Start(total int) *Assembly {
	if total < 0 {
		total = 0
	}
	return &Assembly{
		slots:  make([]string, total),
		filled: make([]bool, total),
	}
}

// Add writes data into slot index, overwriting any earlier delivery.
func (a *Assembly) Add(index int, data string) error {
	if index < 0 || index >= len(a.slots) {
		return protocol.Errorf(protocol.CodeOutOfRange, "chunk index %d outside [0,%d)", index, len(a.slots))
	}
	a.slots[index] = data
	a.deliveries++
	if !a.filled[index] {
		a.filled[index] = true
		a.received++
	}
	return nil
}

// Total is the declared number of parts.
func (a *Assembly) Total() int { return len(a.slots) }

// Received is the number of distinct slots filled.
func (a *Assembly) Received() int { return a.received }

// Deliveries counts every Add call, duplicates included.
func (a *Assembly) Deliveries() int { return a.deliveries }

// Complete reports whether every slot has been filled.
func (a *Assembly) Complete() bool { return a.received == len(a.slots) }

// Missing lists the indices not yet filled.
func (a *Assembly) Missing() []int {
	var out []int
	for i, ok := range a.filled {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Assemble joins the slots in index order.
func (a *Assembly) Assemble() (string, error) {
	if !a.Complete() {
		return "", protocol.Errorf(protocol.CodeIncomplete, "%d of %d parts received, missing %v", a.received, len(a.slots), a.Missing())
	}
	var b strings.Builder
	for _, s := range a.slots {
		b.WriteString(s)
	}
	return b.String(), nil
}
