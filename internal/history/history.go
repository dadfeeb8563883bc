// Package history keeps a log of processed batches.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/spigell/cv-ranker/internal/utils"
)

// MaxResultRunes is the length stored results are cut to.
const MaxResultRunes = 500

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Entry is one processed batch.
type Entry struct {
	RequestID  string    `firestore:"request_id" json:"request_id"`
	UserID     string    `firestore:"user_id" json:"user_id"`
	Timestamp  time.Time `firestore:"timestamp" json:"timestamp"`
	Query      string    `firestore:"query" json:"query"`
	Result     string    `firestore:"result" json:"result"`
	FilesCount int       `firestore:"files_count" json:"files_count"`
	Status     Status    `firestore:"status" json:"status"`
}

// Normalized returns the entry as it is stored: result truncated, timestamp set and in UTC, unknown ids
// replaced with "unknown".
func (e Entry) Normalized() Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Result = utils.TruncateRunes(e.Result, MaxResultRunes)
	if strings.TrimSpace(e.RequestID) == "" {
		e.RequestID = "unknown"
	}
	if strings.TrimSpace(e.UserID) == "" {
		e.UserID = "unknown"
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	return e
}

// Recorder stores entries. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Reader lists stored entries, newest first.
type Reader interface {
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }
