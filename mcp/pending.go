package mcp

import (
	"sync"
	"time"
)

type callResult struct {
	msg Message
	err error
}

// pendingCall is owned by the pending table until one party claims it.
type pendingCall struct {
	id        int64
	method    string
	createdAt time.Time
	done      chan callResult
}

// pendingTable allocates ids and tracks in-flight requests. Every exit path
// claims its entry with delete-under-lock, so exactly one of resolve, timeout
// and shutdown acts on a call.
type pendingTable struct {
	mu     sync.Mutex
	nextID int64
	calls  map[int64]*pendingCall
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		nextID: 1,
		calls:  make(map[int64]*pendingCall),
	}
}

// add allocates the next id and registers a call under it. It fails with the
// shutdown cause once the table is closed.
func (t *pendingTable) add(method string) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return nil, t.closed
	}

	id := t.nextID
	t.nextID++

	call := &pendingCall{
		id:        id,
		method:    method,
		createdAt: time.Now(),
		done:      make(chan callResult, 1),
	}
	t.calls[id] = call
	return call, nil
}

// claim removes and returns the call registered under id.
func (t *pendingTable) claim(id int64) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return call, ok
}

// resolve claims the call for id and hands it res. It reports false when the
// call was already claimed by someone else.
func (t *pendingTable) resolve(id int64, res callResult) bool {
	call, ok := t.claim(id)
	if !ok {
		return false
	}
	call.done <- res
	return true
}

// close rejects new calls with cause and fails every outstanding one with it.
// Only the first cause is kept.
func (t *pendingTable) close(cause error) int {
	t.mu.Lock()
	if t.closed == nil {
		t.closed = cause
	}
	calls := t.calls
	t.calls = make(map[int64]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		call.done <- callResult{err: cause}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *pendingTable) has(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	return ok
}
