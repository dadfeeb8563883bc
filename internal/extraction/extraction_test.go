package extraction

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
)

type fakePage struct {
	page document.Page
	err  error
}

type fakeNormalizer struct {
	pages map[string][]fakePage
	err   map[string]error
}

func (f *fakeNormalizer) Normalize(_ context.Context, u document.Upload) (iter.Seq2[document.Page, error], error) {
	if err := f.err[u.Filename]; err != nil {
		return nil, err
	}
	pages := f.pages[u.Filename]
	return func(yield func(document.Page, error) bool) {
		for i, p := range pages {
			p.page.Index = i
			if !yield(p.page, p.err) {
				return
			}
		}
	}, nil
}

// fakeExtractor reads the page image as text and fails pages whose image is "bad". It sleeps a random
// amount so pages complete out of order.
type fakeExtractor struct {
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(_ context.Context, page document.Page) document.Outcome {
	f.calls.Add(1)
	time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
	if string(page.Image) == "bad" {
		return document.Failed{Page: page.Index, Reason: "unreadable"}
	}
	return document.Text{Page: page.Index, Content: string(page.Image), Confidence: 0.8, Source: document.SourceOCR}
}

func imagePages(texts ...string) []fakePage {
	out := make([]fakePage, len(texts))
	for i, t := range texts {
		out[i] = fakePage{page: document.Page{Image: []byte(t)}}
	}
	return out
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	upload := document.Upload{Index: 1, Filename: "cv.pdf", MediaType: document.MediaPDF, Data: []byte("%PDF-1.7 original")}

	tests := []struct {
		name       string
		threshold  float64
		outcomes   []document.Outcome
		expectKind document.ResultKind
		expectText string
		expectConf float64
	}{
		{
			name:      "pages joined in index order",
			threshold: 1,
			outcomes: []document.Outcome{
				document.Text{Page: 2, Content: "third", Confidence: 0.9},
				document.Text{Page: 0, Content: "first", Confidence: 0.7},
				document.Text{Page: 1, Content: "second", Confidence: 0.8},
			},
			expectKind: document.KindText,
			expectText: "first" + PageSeparator + "second" + PageSeparator + "third",
			expectConf: 0.8,
		},
		{
			name:      "failed pages omitted within tolerance",
			threshold: 1,
			outcomes: []document.Outcome{
				document.Failed{Page: 1, Reason: "blur"},
				document.Text{Page: 0, Content: "first", Confidence: 0.6},
				document.Text{Page: 2, Content: "third", Confidence: 0.8},
			},
			expectKind: document.KindText,
			expectText: "first" + PageSeparator + "third",
			expectConf: 0.7,
		},
		{
			name:      "all pages failed",
			threshold: 1,
			outcomes: []document.Outcome{
				document.Failed{Page: 0, Reason: "blur"},
				document.Failed{Page: 1, Reason: "blur"},
			},
			expectKind: document.KindRaw,
		},
		{
			name:       "single page failed",
			threshold:  1,
			outcomes:   []document.Outcome{document.Failed{Page: 0, Reason: "no text"}},
			expectKind: document.KindRaw,
		},
		{
			name:      "failed fraction above threshold",
			threshold: 0.25,
			outcomes: []document.Outcome{
				document.Text{Page: 0, Content: "first", Confidence: 0.9},
				document.Failed{Page: 1, Reason: "blur"},
			},
			expectKind: document.KindRaw,
		},
		{
			name:      "failed fraction at threshold",
			threshold: 0.5,
			outcomes: []document.Outcome{
				document.Text{Page: 0, Content: "first", Confidence: 0.9},
				document.Failed{Page: 1, Reason: "blur"},
			},
			expectKind: document.KindText,
			expectText: "first",
			expectConf: 0.9,
		},
		{
			name:       "no outcomes",
			threshold:  1,
			expectKind: document.KindRaw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := NewAggregator(tt.threshold).Aggregate(upload, tt.outcomes)
			if result.Kind() != tt.expectKind {
				t.Fatalf("expected %s result, got %s", tt.expectKind, result.Kind())
			}
			if result.Source().Filename != "cv.pdf" || result.Source().Index != 1 {
				t.Fatalf("provenance lost: %+v", result.Source())
			}

			switch r := result.(type) {
			case document.ExtractedText:
				if r.Text != tt.expectText {
					t.Fatalf("expected text %q, got %q", tt.expectText, r.Text)
				}
				if diff := r.Confidence - tt.expectConf; diff > 1e-9 || diff < -1e-9 {
					t.Fatalf("expected confidence %v, got %v", tt.expectConf, r.Confidence)
				}
			case document.RawFallback:
				if !bytes.Equal(r.Data, upload.Data) {
					t.Fatalf("fallback must carry the original bytes")
				}
				if r.MIMEType != document.MediaPDF {
					t.Fatalf("unexpected fallback mime type %s", r.MIMEType)
				}
				if r.Reason == "" {
					t.Fatalf("expected fallback reason")
				}
			}
		})
	}
}

func TestAggregateIgnoresCompletionOrder(t *testing.T) {
	upload := document.Upload{Filename: "cv.pdf", Data: []byte("x")}
	outcomes := []document.Outcome{
		document.Text{Page: 0, Content: "a", Confidence: 1},
		document.Text{Page: 1, Content: "b", Confidence: 1},
		document.Failed{Page: 2, Reason: "blur"},
		document.Text{Page: 3, Content: "d", Confidence: 1},
	}
	agg := NewAggregator(1)
	expected := agg.Aggregate(upload, outcomes).(document.ExtractedText).Text

	for range 20 {
		shuffled := append([]document.Outcome(nil), outcomes...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := agg.Aggregate(upload, shuffled).(document.ExtractedText).Text
		if got != expected {
			t.Fatalf("expected %q, got %q", expected, got)
		}
	}
}

func TestNewAggregatorDefaults(t *testing.T) {
	for _, v := range []float64{-0.1, 1.5} {
		if got := NewAggregator(v).MaxFailedFraction(); got != DefaultMaxFailedFraction {
			t.Fatalf("expected default for %v, got %v", v, got)
		}
	}
}

func TestPipelineProcess(t *testing.T) {
	normalizer := &fakeNormalizer{
		pages: map[string][]fakePage{
			"long.pdf":  imagePages("p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"),
			"photo.jpg": imagePages("bad"),
			"mixed.pdf": {
				{page: document.Page{Image: []byte("intro")}},
				{err: errors.New("corrupt page")},
				{page: document.Page{TextLayer: "ignored by fake"}, err: nil},
			},
		},
		err: map[string]error{
			"cv.odt": &document.UnsupportedFormatError{Filename: "cv.odt", MediaType: "application/vnd.oasis.opendocument.text"},
		},
	}
	extractor := &fakeExtractor{}

	p, err := NewPipeline(normalizer, extractor, NewAggregator(1), zap.NewNop(), WithDocumentConcurrency(2), WithPageConcurrency(3))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	uploads := []document.Upload{
		{Index: 0, Filename: "long.pdf", MediaType: document.MediaPDF, Data: []byte("pdf")},
		{Index: 1, Filename: "photo.jpg", MediaType: document.MediaJPEG, Data: []byte("jpeg-original")},
		{Index: 2, Filename: "cv.odt", Data: []byte("odt-original")},
		{Index: 3, Filename: "mixed.pdf", MediaType: document.MediaPDF, Data: []byte("pdf2")},
	}

	results, err := p.Process(context.Background(), uploads)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(results) != len(uploads) {
		t.Fatalf("expected %d results, got %d", len(uploads), len(results))
	}

	for i, r := range results {
		if r.Source().Index != i {
			t.Fatalf("result %d carries index %d", i, r.Source().Index)
		}
	}

	long, ok := results[0].(document.ExtractedText)
	if !ok {
		t.Fatalf("expected text for long.pdf, got %T", results[0])
	}
	if long.Text != strings.Join([]string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}, PageSeparator) {
		t.Fatalf("pages out of order: %q", long.Text)
	}

	photo, ok := results[1].(document.RawFallback)
	if !ok {
		t.Fatalf("expected raw fallback for photo.jpg, got %T", results[1])
	}
	if string(photo.Data) != "jpeg-original" || photo.MIMEType != document.MediaJPEG {
		t.Fatalf("unexpected fallback %+v", photo)
	}

	odt, ok := results[2].(document.RawFallback)
	if !ok {
		t.Fatalf("expected raw fallback for unsupported format, got %T", results[2])
	}
	if !strings.Contains(odt.Reason, "unsupported format") {
		t.Fatalf("unexpected reason %q", odt.Reason)
	}

	mixed, ok := results[3].(document.ExtractedText)
	if !ok {
		t.Fatalf("expected text for mixed.pdf, got %T", results[3])
	}
	if mixed.Pages != 3 || mixed.FailedPages != 1 {
		t.Fatalf("unexpected page counts %d/%d", mixed.Pages, mixed.FailedPages)
	}
}

func TestPipelineCanceled(t *testing.T) {
	p, err := NewPipeline(&fakeNormalizer{}, &fakeExtractor{}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Process(ctx, []document.Upload{{Filename: "a.pdf", Data: []byte("x")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewPipelineRequiresParts(t *testing.T) {
	if _, err := NewPipeline(nil, &fakeExtractor{}, nil, nil); err == nil {
		t.Fatalf("expected error without normalizer")
	}
	if _, err := NewPipeline(&fakeNormalizer{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error without extractor")
	}
}

func TestDescribe(t *testing.T) {
	text := document.ExtractedText{Document: document.Identity{Filename: "a.pdf"}, Pages: 3, FailedPages: 1, Confidence: 0.5}
	if got := Describe(text); got != "a.pdf: text from 2/3 pages (confidence 0.50)" {
		t.Fatalf("unexpected description %q", got)
	}
	raw := document.RawFallback{Document: document.Identity{Filename: "b.png"}, MIMEType: document.MediaPNG, Reason: "blur"}
	if got := Describe(raw); got != "b.png: original image/png forwarded (blur)" {
		t.Fatalf("unexpected description %q", got)
	}
}
