// Package memory is an in-memory StatementWriter for tests.
package memory

import (
	"context"
	"sync"

	"contas/internal/core"
	"contas/internal/sheets"
)

type Row struct {
	Entry       core.AuditEntry
	AccountName string
}

type Writer struct {
	mu   sync.Mutex
	rows []Row
}

var _ sheets.StatementWriter = (*Writer)(nil)

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Append(ctx context.Context, entry core.AuditEntry, accountName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, Row{Entry: entry, AccountName: accountName})
	return nil
}

// Rows returns a copy of everything appended so far.
func (w *Writer) Rows() []Row {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Row, len(w.rows))
	copy(out, w.rows)
	return out
}
