package document

import (
	"strings"

	"github.com/google/uuid"
)

// Mode selects what the agent is asked to do with a batch.
type Mode string

const (
	// ModeCompare ranks the documents against the query.
	ModeCompare Mode = "compare"
	// ModeSummarize produces a structured summary per document.
	ModeSummarize Mode = "summarize"
)

// SummarizeQueryLabel replaces the empty query in logs and history.
const SummarizeQueryLabel = "[summarize]"

// Batch groups the results of one request. Results keep the order of the uploads.
type Batch struct {
	ID      string
	UserID  string
	Query   string
	Results []Result
}

// Len returns the number of documents in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Results)
}

// Mode returns ModeSummarize when no usable query was given.
func (b *Batch) Mode() Mode {
	return ModeFor(b.Query)
}

// QueryLabel returns the query for logs and history, or SummarizeQueryLabel in summarize mode.
func (b *Batch) QueryLabel() string {
	if b.Mode() == ModeSummarize {
		return SummarizeQueryLabel
	}
	return strings.TrimSpace(b.Query)
}

// Fallbacks returns the raw fallback results of the batch.
func (b *Batch) Fallbacks() []RawFallback {
	var out []RawFallback
	for _, r := range b.Results {
		if raw, ok := r.(RawFallback); ok {
			out = append(out, raw)
		}
	}
	return out
}

// ModeFor maps a query to a mode. The literal "string" is what generated API clients send for an
// untouched form field, so it counts as empty.
func ModeFor(query string) Mode {
	q := strings.TrimSpace(query)
	if q == "" || strings.EqualFold(q, "string") {
		return ModeSummarize
	}
	return ModeCompare
}

// ResolveBatchID turns a caller supplied request id into a UUID. Valid UUIDs are kept, other strings are
// mapped to a stable name based UUID and an empty id gets a random one.
func ResolveBatchID(requestID string) string {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return uuid.NewString()
	}
	if parsed, err := uuid.Parse(requestID); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(requestID)).String()
}
