package ledger

import (
	"sort"
	"sync"
	"time"

	"contas/internal/core"
)

const defaultLockTimeout = 3 * time.Second

// LockTable serializes balance mutations per account. Multi-account
// operations acquire their locks in ascending account-id order, so two
// opposite transfers can never deadlock.
type LockTable struct {
	mu      sync.Mutex
	locks   map[int64]chan struct{}
	timeout time.Duration
}

func NewLockTable(timeout time.Duration) *LockTable {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &LockTable{
		locks:   make(map[int64]chan struct{}),
		timeout: timeout,
	}
}

func (lt *LockTable) lockFor(accountID int64) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	ch, ok := lt.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.locks[accountID] = ch
	}
	return ch
}

// Acquire takes the locks for the given accounts and returns a release
// function. Duplicate ids are collapsed. If any lock cannot be taken
// within the table timeout, everything already held is released and a
// timeout error is returned; the caller may retry.
func (lt *LockTable) Acquire(accountIDs ...int64) (func(), error) {
	ids := dedupeSorted(accountIDs)

	deadline := time.NewTimer(lt.timeout)
	defer deadline.Stop()

	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ids {
		ch := lt.lockFor(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-deadline.C:
			release()
			return nil, core.Timeout("acquire account lock", nil)
		}
	}
	return release, nil
}

func dedupeSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
