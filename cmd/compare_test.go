package cmd

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/history"
	"github.com/spigell/cv-ranker/internal/intake"
	"github.com/spigell/cv-ranker/internal/ranker"
)

type failingProcessor struct{ err error }

func (p failingProcessor) Process(context.Context, []document.Upload) ([]document.Result, error) {
	return nil, p.err
}

type unusedDispatcher struct{}

func (unusedDispatcher) Dispatch(context.Context, *document.Batch) (*ai.Verdict, error) {
	return nil, errors.New("must not be called")
}

type memoryRecorder struct {
	entries []history.Entry
}

func (m *memoryRecorder) Record(_ context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRecorder) Close() error { return nil }

func TestPrepareBatchRecordsFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		uploads []document.Upload
	}{
		{
			name:    "extraction fails",
			err:     errors.New("engine closed"),
			uploads: []document.Upload{{Filename: "ana.pdf", Data: []byte("ana")}},
		},
		{
			name:    "nothing left after intake",
			uploads: []document.Upload{{Filename: "blank.pdf"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &memoryRecorder{}
			r, err := ranker.New(failingProcessor{err: tt.err}, unusedDispatcher{}, zap.NewNop(), ranker.WithRecorder(recorder))
			if err != nil {
				t.Fatalf("new ranker: %v", err)
			}

			req := ranker.Request{RequestID: "interactive-1", UserID: "u1", Query: "Go", Uploads: tt.uploads}
			if _, err := prepareBatch(context.Background(), r, req); err == nil {
				t.Fatalf("expected an error")
			}

			if len(recorder.entries) != 1 {
				t.Fatalf("expected one history entry, got %d", len(recorder.entries))
			}
			e := recorder.entries[0]
			if e.Status != history.StatusError || e.RequestID != document.ResolveBatchID("interactive-1") || e.FilesCount != 1 {
				t.Fatalf("unexpected entry %+v", e)
			}
		})
	}
}

func TestLogIntake(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg, steps := intakeSettings(&IntakeConfig{MaxFileSize: 2048, Disabled: []string{"empty_payload"}})

	if err := logIntake(zap.New(core), cfg, steps); err != nil {
		t.Fatalf("log intake: %v", err)
	}

	entries := observed.FilterMessage("intake check").All()
	if len(entries) != len(steps) {
		t.Fatalf("expected %d entries, got %d", len(steps), len(entries))
	}
	byName := map[string]map[string]interface{}{}
	for _, e := range entries {
		fields := e.ContextMap()
		byName[fields["name"].(string)] = fields
	}
	if f := byName["max_size"]; f["limit_bytes"] != "2048" || f["enabled"] != true {
		t.Fatalf("unexpected max_size entry %v", f)
	}
	if f := byName["duplicates"]; f["enabled"] != false || f["reason"] != "opt-in" {
		t.Fatalf("unexpected duplicates entry %v", f)
	}
	if f := byName["empty_payload"]; f["enabled"] != false || f["reason"] != "disabled in config" {
		t.Fatalf("unexpected empty_payload entry %v", f)
	}

	bad, badSteps := intakeSettings(&IntakeConfig{MaxDocuments: -1})
	if err := logIntake(zap.NewNop(), bad, badSteps); err == nil {
		t.Fatalf("expected validation error")
	}
}
