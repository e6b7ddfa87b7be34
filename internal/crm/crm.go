// Package crm talks to the external record-creation service and keeps the
// append-only log of leads created during the current call.
package crm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRecordService indicates the external record-creation service failed.
// Reported upstream as a failed tool result; never tears down the call.
var ErrRecordService = errors.New("record service failure")

// LeadRecord is one captured lead. Immutable after creation.
type LeadRecord struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	PhoneNumber string    `json:"phoneNumber"`
	Email       string    `json:"email"`
	Timestamp   time.Time `json:"timestamp"`
}

// CreateResult is the record-creation service response.
type CreateResult struct {
	Success  bool   `json:"success"`
	RecordID string `json:"recordId"`
}

// Service creates records in the external system. Single-shot: failures are
// reported, not retried, unless the client was configured with a retry
// policy.
type Service interface {
	CreateRecord(ctx context.Context, fullName, phoneNumber, email string) (CreateResult, error)
}

// LeadLog is the append-only list of leads created during the current call.
type LeadLog struct {
	mu      sync.RWMutex
	records []LeadRecord
}

// NewLeadLog creates an empty lead log.
func NewLeadLog() *LeadLog {
	return &LeadLog{}
}

// Append adds a record to the log.
func (l *LeadLog) Append(r LeadRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// Records returns a snapshot copy of the log.
func (l *LeadLog) Records() []LeadRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LeadRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of recorded leads.
func (l *LeadLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Reset clears the log for a new call. Lead history does not persist beyond
// one call's lifetime.
func (l *LeadLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}
