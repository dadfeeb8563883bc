package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestResolvedMediaType(t *testing.T) {
	t.Parallel()

	pngHeader := []byte("\x89PNG\r\n\x1a\n0000000000")

	tests := []struct {
		name   string
		upload Upload
		expect MediaType
	}{
		{
			name:   "declared type wins",
			upload: Upload{Filename: "cv.bin", MediaType: "application/pdf", Data: []byte("%PDF-1.7")},
			expect: MediaPDF,
		},
		{
			name:   "declared alias",
			upload: Upload{Filename: "cv", MediaType: "image/jpg", Data: []byte{0xff, 0xd8, 0xff}},
			expect: MediaJPEG,
		},
		{
			name:   "extension when declared is generic",
			upload: Upload{Filename: "CV.JPEG", MediaType: "application/octet-stream", Data: []byte("x")},
			expect: MediaJPEG,
		},
		{
			name:   "sniffed when nothing else is known",
			upload: Upload{Filename: "scan", Data: pngHeader},
			expect: MediaPNG,
		},
		{
			name:   "docx by content",
			upload: Upload{Filename: "cv", Data: buildZip(t, "word/document.xml")},
			expect: MediaDOCX,
		},
		{
			name:   "plain zip is not docx",
			upload: Upload{Filename: "cv", Data: buildZip(t, "notes.txt")},
			expect: "application/zip",
		},
		{
			name:   "unsupported keeps declared type",
			upload: Upload{Filename: "cv.txt", MediaType: "text/plain; charset=utf-8", Data: []byte("hello")},
			expect: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.upload.ResolvedMediaType(); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	u := Upload{Index: 3, Filename: "cv.png", Data: []byte("payload")}
	id := u.Identity()

	if id.Index != 3 || id.Filename != "cv.png" || id.Size != 7 {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if id.MediaType != MediaPNG {
		t.Fatalf("expected png media type, got %q", id.MediaType)
	}
	if len(id.SHA256) != 64 {
		t.Fatalf("expected hex sha256, got %q", id.SHA256)
	}
}

func TestNewRawFallbackKeepsOriginalBytes(t *testing.T) {
	data := []byte{0x00, 0x01, 0xfe}
	u := Upload{Index: 1, Filename: "broken.jpg", Data: data}

	fallback := NewRawFallback(u, "all pages failed")

	if !bytes.Equal(fallback.Data, data) {
		t.Fatalf("fallback bytes differ from input")
	}
	if fallback.MIMEType != MediaJPEG {
		t.Fatalf("unexpected mime type %q", fallback.MIMEType)
	}
	if fallback.Source().Index != 1 || fallback.Kind() != KindRaw {
		t.Fatalf("unexpected provenance: %+v", fallback.Source())
	}
}

func TestModeFor(t *testing.T) {
	t.Parallel()

	cases := map[string]Mode{
		"":                          ModeSummarize,
		"   ":                       ModeSummarize,
		"String":                    ModeSummarize,
		"Who knows Go best?":        ModeCompare,
		" strings in python?  ":     ModeCompare,
		"which candidate is senior": ModeCompare,
	}

	for query, expect := range cases {
		if got := ModeFor(query); got != expect {
			t.Fatalf("query %q: expected %s, got %s", query, expect, got)
		}
	}

	b := &Batch{Query: ""}
	if b.QueryLabel() != SummarizeQueryLabel {
		t.Fatalf("unexpected label %q", b.QueryLabel())
	}
}

func TestResolveBatchID(t *testing.T) {
	t.Parallel()

	fixed := "550e8400-e29b-41d4-a716-446655440000"
	if got := ResolveBatchID(fixed); got != fixed {
		t.Fatalf("expected uuid to be kept, got %s", got)
	}

	first := ResolveBatchID("recruiter-42")
	second := ResolveBatchID("recruiter-42")
	if first != second {
		t.Fatalf("expected stable id for the same request id, got %s and %s", first, second)
	}
	if parsed := uuid.MustParse(first); parsed.Version() != 5 {
		t.Fatalf("expected name based uuid, got version %d", parsed.Version())
	}

	if ResolveBatchID("") == ResolveBatchID("") {
		t.Fatalf("expected random ids for empty request id")
	}
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &EmptyBatchError{BatchID: "b1"})
	if !IsEmptyBatch(err) {
		t.Fatalf("expected wrapped empty batch error to match")
	}

	var unsupported *UnsupportedFormatError
	if !errors.As(fmt.Errorf("normalize: %w", &UnsupportedFormatError{Filename: "a.txt"}), &unsupported) {
		t.Fatalf("expected unsupported format error")
	}
	if unsupported.Error() != `unsupported format unknown for "a.txt"` {
		t.Fatalf("unexpected message: %s", unsupported.Error())
	}
}

func buildZip(t *testing.T, names ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte("<x/>")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
