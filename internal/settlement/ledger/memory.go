package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryExecutor is an in-process executor used in development mode and
// tests. Outcomes are scriptable per key; unscripted submissions confirm
// immediately.
type MemoryExecutor struct {
	mu          sync.Mutex
	submissions map[string]int // idempotency key -> submit count
	results     map[string]*Result
	scripted    map[string][]Result // consumed front to back on each Submit
	seq         int
}

func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{
		submissions: make(map[string]int),
		results:     make(map[string]*Result),
		scripted:    make(map[string][]Result),
	}
}

// Script queues outcomes for a key; each Submit consumes one
func (m *MemoryExecutor) Script(idempotencyKey string, results ...Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[idempotencyKey] = append(m.scripted[idempotencyKey], results...)
}

func (m *MemoryExecutor) Submit(ctx context.Context, idempotencyKey string, instr Instruction) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: a key that already reached a terminal result replays it
	if prev, ok := m.results[idempotencyKey]; ok && prev.Status != ExecFailed {
		return prev, nil
	}

	m.submissions[idempotencyKey]++

	var result Result
	if queue := m.scripted[idempotencyKey]; len(queue) > 0 {
		result = queue[0]
		m.scripted[idempotencyKey] = queue[1:]
	} else {
		m.seq++
		result = Result{Status: ExecConfirmed, TxHash: fmt.Sprintf("memtx-%06d", m.seq)}
	}
	if result.TxHash == "" && result.Status != ExecFailed {
		m.seq++
		result.TxHash = fmt.Sprintf("memtx-%06d", m.seq)
	}

	m.results[idempotencyKey] = &result
	return &result, nil
}

func (m *MemoryExecutor) QueryStatus(ctx context.Context, idempotencyKey string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if result, ok := m.results[idempotencyKey]; ok {
		return result, nil
	}
	return &Result{Status: ExecFailed, Err: "no submission recorded for key"}, nil
}

// Resolve overrides the stored result for a key; lets tests flip a pending
// submission to confirmed the way a reconciliation sweep would observe it
func (m *MemoryExecutor) Resolve(idempotencyKey string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[idempotencyKey] = &result
}

// SubmitCount reports how many times a key was submitted
func (m *MemoryExecutor) SubmitCount(idempotencyKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions[idempotencyKey]
}
