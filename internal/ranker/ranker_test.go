package ranker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/comparison"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/history"
	"github.com/spigell/cv-ranker/internal/intake"
)

// fakeProcessor extracts text from every upload except the ones named in raw.
type fakeProcessor struct {
	calls int
	raw   map[string]bool
	err   error
}

func (f *fakeProcessor) Process(_ context.Context, uploads []document.Upload) ([]document.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	results := make([]document.Result, len(uploads))
	for i, u := range uploads {
		if f.raw[u.Filename] {
			results[i] = document.NewRawFallback(u, "all 1 pages failed")
			continue
		}
		results[i] = document.ExtractedText{Document: u.Identity(), Text: string(u.Data), Pages: 1, Confidence: 1}
	}
	return results, nil
}

type fakeComparator struct {
	calls   int
	verdict *ai.Verdict
	err     error
	block   bool
}

func (f *fakeComparator) Compare(ctx context.Context, _ *document.Batch) (*ai.Verdict, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.verdict, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
	err     error
}

func (f *fakeRecorder) Record(ctx context.Context, e history.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.entries = append(f.entries, e)
	return f.err
}

func (f *fakeRecorder) Close() error { return nil }

type fakeArchiver struct {
	stored []string
	err    error
}

func (f *fakeArchiver) Store(_ context.Context, batch *document.Batch) ([]string, error) {
	for _, raw := range batch.Fallbacks() {
		f.stored = append(f.stored, raw.Document.Filename)
	}
	return f.stored, f.err
}

func newRanker(t *testing.T, processor Processor, comparator *fakeComparator, timeout time.Duration, log *zap.Logger, opts ...Option) *Ranker {
	t.Helper()
	dispatcher, err := comparison.NewDispatcher(comparator, timeout, log)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	r, err := New(processor, dispatcher, log, opts...)
	if err != nil {
		t.Fatalf("new ranker: %v", err)
	}
	return r
}

func uploads(names ...string) []document.Upload {
	out := make([]document.Upload, len(names))
	for i, name := range names {
		out[i] = document.Upload{Index: i, Filename: name, Data: []byte("résumé of " + name)}
	}
	return out
}

func TestRankMixedBatch(t *testing.T) {
	processor := &fakeProcessor{raw: map[string]bool{"scan.jpg": true}}
	comparator := &fakeComparator{verdict: &ai.Verdict{
		Mode:   document.ModeCompare,
		Answer: "Ana fits best.",
		Best:   &ai.Best{Document: 0, CandidateName: "Ana"},
	}}
	recorder := &fakeRecorder{}
	archiver := &fakeArchiver{}

	r := newRanker(t, processor, comparator, time.Second, zap.NewNop(),
		WithRecorder(recorder), WithArchiver(archiver))

	rep, err := r.Rank(context.Background(), Request{
		RequestID: "recruiter-42",
		UserID:    "u1",
		Query:     "Senior Go engineer",
		Uploads:   uploads("ana.pdf", "scan.jpg"),
	})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}

	if comparator.calls != 1 {
		t.Fatalf("expected exactly one agent call, got %d", comparator.calls)
	}
	if rep.RequestID != document.ResolveBatchID("recruiter-42") {
		t.Fatalf("unexpected request id %s", rep.RequestID)
	}
	if rep.Files[0].Kind != document.KindText || rep.Files[1].Kind != document.KindRaw {
		t.Fatalf("unexpected kinds %+v", rep.Files)
	}
	if len(rep.Archived) != 1 || archiver.stored[0] != "scan.jpg" {
		t.Fatalf("expected the fallback to be archived, got %v", rep.Archived)
	}
	if !strings.Contains(rep.Result, "Best résumé: ana.pdf") {
		t.Fatalf("unexpected result %q", rep.Result)
	}

	if len(recorder.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Status != history.StatusSuccess || entry.FilesCount != 2 || entry.Query != "Senior Go engineer" || entry.UserID != "u1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRankEmptyBatchBeforeNormalization(t *testing.T) {
	processor := &fakeProcessor{}
	comparator := &fakeComparator{}
	recorder := &fakeRecorder{}
	r := newRanker(t, processor, comparator, time.Second, zap.NewNop(), WithRecorder(recorder))

	empty := []document.Upload{{Filename: "blank.pdf"}}
	for name, files := range map[string][]document.Upload{"no uploads": nil, "only empty payloads": empty} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Rank(context.Background(), Request{Uploads: files})
			if !document.IsEmptyBatch(err) {
				t.Fatalf("expected empty batch error, got %v", err)
			}
		})
	}

	if processor.calls != 0 || comparator.calls != 0 {
		t.Fatalf("nothing must be processed, got %d process and %d compare calls", processor.calls, comparator.calls)
	}
	if len(recorder.entries) != 2 || recorder.entries[0].Status != history.StatusError {
		t.Fatalf("expected failures to be recorded, got %+v", recorder.entries)
	}
	if recorder.entries[0].Query != document.SummarizeQueryLabel {
		t.Fatalf("unexpected query %q", recorder.entries[0].Query)
	}
}

func TestRankKeepsIdenticalUploads(t *testing.T) {
	processor := &fakeProcessor{}
	comparator := &fakeComparator{verdict: &ai.Verdict{Mode: document.ModeSummarize, Answer: "Two résumés."}}
	r := newRanker(t, processor, comparator, time.Second, zap.NewNop())

	files := uploads("a.pdf", "b.pdf")
	files[1].Data = files[0].Data

	batch, err := r.Prepare(context.Background(), Request{Uploads: files})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if batch.Len() != 2 || batch.Mode() != document.ModeSummarize {
		t.Fatalf("identical uploads must stay in the batch, got %+v", batch)
	}

	rep, err := r.Compare(context.Background(), batch)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(rep.Files) != 2 || rep.Files[0].Filename != "a.pdf" || rep.Files[1].Filename != "b.pdf" {
		t.Fatalf("unexpected report files %+v", rep.Files)
	}
}

func TestRankDropsIdenticalUploadsWhenEnabled(t *testing.T) {
	steps := intake.DefaultSteps()
	intake.EnableByName(steps, "duplicates")
	r := newRanker(t, &fakeProcessor{}, &fakeComparator{}, time.Second, zap.NewNop(),
		WithIntake(nil, steps))

	files := uploads("a.pdf", "b.pdf")
	files[1].Data = files[0].Data

	batch, err := r.Prepare(context.Background(), Request{Uploads: files})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if batch.Len() != 1 {
		t.Fatalf("expected one document, got %d", batch.Len())
	}
}

func TestRecordFailure(t *testing.T) {
	recorder := &fakeRecorder{}
	r := newRanker(t, &fakeProcessor{}, &fakeComparator{}, time.Second, zap.NewNop(), WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := Request{RequestID: "req-1", UserID: "u1", Query: "Go", Uploads: uploads("a.pdf", "b.pdf")}
	r.RecordFailure(ctx, req, errors.New("extract documents: engine closed"))

	if len(recorder.entries) != 1 {
		t.Fatalf("expected one entry even with a canceled context, got %d", len(recorder.entries))
	}
	e := recorder.entries[0]
	if e.Status != history.StatusError || e.Result != "Error: extract documents: engine closed" ||
		e.RequestID != document.ResolveBatchID("req-1") || e.FilesCount != 2 || e.UserID != "u1" || e.Query != "Go" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Fatalf("timestamp must be set")
	}
}

func TestRankTooManyDocuments(t *testing.T) {
	processor := &fakeProcessor{}
	r := newRanker(t, processor, &fakeComparator{}, time.Second, zap.NewNop(),
		WithIntake(&intake.Config{MaxDocuments: 1}, nil))

	_, err := r.Rank(context.Background(), Request{Query: "Go", Uploads: uploads("a.pdf", "b.pdf")})
	var tooMany *intake.TooManyDocumentsError
	if !errors.As(err, &tooMany) || tooMany.Limit != 1 {
		t.Fatalf("expected too many documents error, got %v", err)
	}
	if processor.calls != 0 {
		t.Fatalf("processor must not run")
	}
}

func TestRankTimeout(t *testing.T) {
	comparator := &fakeComparator{block: true}
	recorder := &fakeRecorder{}
	r := newRanker(t, &fakeProcessor{}, comparator, 20*time.Millisecond, zap.NewNop(), WithRecorder(recorder))

	rep, err := r.Rank(context.Background(), Request{Query: "Go", Uploads: uploads("a.pdf")})
	if !comparison.IsReason(err, comparison.ReasonTimeout) {
		t.Fatalf("expected timeout dispatch error, got %v", err)
	}
	if rep == nil || rep.Verdict != nil || len(rep.Files) != 1 {
		t.Fatalf("expected a report without verdict, got %+v", rep)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Status != history.StatusError ||
		!strings.HasPrefix(recorder.entries[0].Result, "Error: ") {
		t.Fatalf("unexpected history %+v", recorder.entries)
	}
}

func TestCanceledRequestIsRecorded(t *testing.T) {
	comparator := &fakeComparator{block: true}
	recorder := &fakeRecorder{}
	r := newRanker(t, &fakeProcessor{}, comparator, time.Second, zap.NewNop(), WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Rank(ctx, Request{Query: "Go", Uploads: uploads("a.pdf")})
	if !comparison.IsReason(err, comparison.ReasonCanceled) {
		t.Fatalf("expected canceled dispatch error, got %v", err)
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected the canceled request to be recorded")
	}
}

func TestSideEffectFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	comparator := &fakeComparator{verdict: &ai.Verdict{Mode: document.ModeCompare, Answer: "ok"}}
	r := newRanker(t, &fakeProcessor{raw: map[string]bool{"a.png": true}}, comparator, time.Second, zap.New(core),
		WithRecorder(&fakeRecorder{err: errors.New("disk full")}),
		WithArchiver(&fakeArchiver{err: errors.New("forbidden")}),
	)

	if _, err := r.Rank(context.Background(), Request{Query: "Go", Uploads: uploads("a.png")}); err != nil {
		t.Fatalf("side effects must not fail the batch: %v", err)
	}
	if logs.FilterMessage("failed to record request").Len() != 1 {
		t.Fatalf("expected recorder failure to be logged")
	}
	if logs.FilterMessage("failed to archive fallback originals").Len() != 1 {
		t.Fatalf("expected archive failure to be logged")
	}
}

func TestNewRequiresParts(t *testing.T) {
	d, err := comparison.NewDispatcher(&fakeComparator{}, time.Second, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if _, err := New(nil, d, nil); err == nil {
		t.Fatalf("expected error without processor")
	}
	if _, err := New(&fakeProcessor{}, nil, nil); err == nil {
		t.Fatalf("expected error without dispatcher")
	}
}
