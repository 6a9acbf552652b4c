package amqp

import (
	"encoding/json"
	"time"
)

// LedgerEventMessage tells the export worker that an audit entry is
// ready for the statement sheet. It carries only ids; the worker fetches
// the full entry from storage.
type LedgerEventMessage struct {
	AuditID   int64     `json:"audit_id"`
	AccountID int64     `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(auditID, accountID int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		AuditID:   auditID,
		AccountID: accountID,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
