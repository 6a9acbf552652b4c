// Package sheets defines the outbound port for statement export.
package sheets

import (
	"context"

	"contas/internal/core"
)

// StatementWriter appends one audit entry to the external statement.
// The Google adapter writes a spreadsheet row; the memory adapter backs
// tests.
type StatementWriter interface {
	Append(ctx context.Context, entry core.AuditEntry, accountName string) error
}
