package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
)

// TooManyDocumentsError rejects a batch over the configured document limit.
type TooManyDocumentsError struct {
	Count int
	Limit int
}

func (e *TooManyDocumentsError) Error() string {
	return fmt.Sprintf("batch has %d documents, the limit is %d", e.Count, e.Limit)
}

// toggle keeps the disabled state shared by all steps.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) Enable() {
	t.disabled = false
	t.reason = ""
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

type maxDocumentsFilter struct {
	toggle
	limit int
}

// NewMaxDocuments creates a step that rejects batches with more uploads than intake.max-documents.
func NewMaxDocuments() Filter {
	return &maxDocumentsFilter{}
}

func (f *maxDocumentsFilter) Name() string { return "max_documents" }

func (f *maxDocumentsFilter) Validate(cfg *Config) error {
	f.limit = 0
	if cfg != nil {
		if cfg.MaxDocuments < 0 {
			return errors.New("max documents must not be negative")
		}
		f.limit = cfg.MaxDocuments
	}
	return nil
}

func (f *maxDocumentsFilter) Apply(_ context.Context, _ Deps, uploads []document.Upload) ([]document.Upload, Step, error) {
	step := Step{Initial: len(uploads), Left: len(uploads)}
	if f.limit > 0 && len(uploads) > f.limit {
		return nil, step, &TooManyDocumentsError{Count: len(uploads), Limit: f.limit}
	}
	return uploads, step, nil
}

func (f *maxDocumentsFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"limit": limitString(int64(f.limit))},
	}
}

type emptyPayloadFilter struct {
	toggle
}

// NewEmptyPayload creates a step that drops uploads without content.
func NewEmptyPayload() Filter {
	return &emptyPayloadFilter{}
}

func (f *emptyPayloadFilter) Name() string { return "empty_payload" }

func (f *emptyPayloadFilter) Validate(*Config) error { return nil }

func (f *emptyPayloadFilter) Apply(_ context.Context, deps Deps, uploads []document.Upload) ([]document.Upload, Step, error) {
	initial := len(uploads)
	kept, dropped := partition(uploads, func(u document.Upload) bool { return len(u.Data) > 0 })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Warn("dropping empty uploads", zap.Strings("files", dropped))
	}
	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *emptyPayloadFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type duplicatesFilter struct {
	toggle
}

// NewDuplicates creates a step that keeps only the first of uploads with identical content. It starts
// disabled: every upload is a document of the batch unless the caller opts in.
func NewDuplicates() Filter {
	return &duplicatesFilter{toggle: toggle{disabled: true, reason: "opt-in"}}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Validate(*Config) error { return nil }

func (f *duplicatesFilter) Apply(_ context.Context, deps Deps, uploads []document.Upload) ([]document.Upload, Step, error) {
	initial := len(uploads)
	seen := make(map[string]string, len(uploads))
	kept, dropped := partition(uploads, func(u document.Upload) bool {
		sum := u.Identity().SHA256
		if first, ok := seen[sum]; ok {
			if deps.Logger != nil {
				deps.Logger.Info("duplicate upload", zap.String("file", u.Filename), zap.String("same_as", first))
			}
			return false
		}
		seen[sum] = u.Filename
		return true
	})
	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *duplicatesFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type maxSizeFilter struct {
	toggle
	limit int64
}

// NewMaxSize creates a step that drops uploads above intake.max-file-size bytes.
func NewMaxSize() Filter {
	return &maxSizeFilter{}
}

func (f *maxSizeFilter) Name() string { return "max_size" }

func (f *maxSizeFilter) Validate(cfg *Config) error {
	f.limit = 0
	if cfg != nil {
		if cfg.MaxFileSize < 0 {
			return errors.New("max file size must not be negative")
		}
		f.limit = cfg.MaxFileSize
	}
	return nil
}

func (f *maxSizeFilter) Apply(_ context.Context, deps Deps, uploads []document.Upload) ([]document.Upload, Step, error) {
	initial := len(uploads)
	if f.limit == 0 {
		return uploads, Step{Initial: initial, Left: initial}, nil
	}

	kept, dropped := partition(uploads, func(u document.Upload) bool { return int64(len(u.Data)) <= f.limit })
	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Warn("dropping oversized uploads", zap.Strings("files", dropped), zap.Int64("limit_bytes", f.limit))
	}
	return kept, Step{Initial: initial, Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *maxSizeFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"limit_bytes": limitString(f.limit)},
	}
}

// partition returns the uploads for which keep is true and the filenames of the others.
func partition(uploads []document.Upload, keep func(document.Upload) bool) ([]document.Upload, []string) {
	kept := make([]document.Upload, 0, len(uploads))
	var dropped []string
	for _, u := range uploads {
		if keep(u) {
			kept = append(kept, u)
			continue
		}
		dropped = append(dropped, u.Filename)
	}
	return kept, dropped
}

func limitString(limit int64) string {
	if limit <= 0 {
		return "none"
	}
	return strconv.FormatInt(limit, 10)
}
