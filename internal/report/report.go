// Package report renders the outcome of a batch for people and tools.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/document"
)

// FileInfo attributes the extraction path taken for one document.
type FileInfo struct {
	Index       int                 `json:"index"`
	Filename    string              `json:"filename"`
	ContentType string              `json:"content_type"`
	Size        int                 `json:"size"`
	SHA256      string              `json:"sha256"`
	Kind        document.ResultKind `json:"kind"`
	Pages       int                 `json:"pages,omitempty"`
	FailedPages int                 `json:"failed_pages,omitempty"`
	Confidence  float64             `json:"confidence,omitempty"`
	Reason      string              `json:"fallback_reason,omitempty"`
	Text        string              `json:"text,omitempty"`
}

// Report is the complete answer to a batch.
type Report struct {
	RequestID      string        `json:"request_id"`
	UserID         string        `json:"user_id"`
	Query          string        `json:"query"`
	Mode           document.Mode `json:"mode"`
	FilesProcessed int           `json:"files_processed"`
	Files          []FileInfo    `json:"files_info"`
	Result         string        `json:"result,omitempty"`
	Verdict        *ai.Verdict   `json:"verdict,omitempty"`
	Archived       []string      `json:"archived,omitempty"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

// Writer outputs reports.
type Writer interface {
	Write(r *Report) (int, error)
}

// New describes the batch. Extracted texts are only included when withText is set.
func New(batch *document.Batch, withText bool) *Report {
	r := &Report{
		RequestID:      batch.ID,
		UserID:         batch.UserID,
		Query:          batch.QueryLabel(),
		Mode:           batch.Mode(),
		FilesProcessed: batch.Len(),
		GeneratedAt:    time.Now().UTC(),
	}
	for _, res := range batch.Results {
		info := fileInfo(res)
		if text, ok := res.(document.ExtractedText); ok && withText {
			info.Text = text.Text
		}
		r.Files = append(r.Files, info)
	}
	return r
}

// SetVerdict attaches the verdict and its rendered text.
func (r *Report) SetVerdict(v *ai.Verdict) {
	r.Verdict = v
	r.Result = Render(v, r.Files)
}

// Fallbacks counts the documents forwarded as originals.
func (r *Report) Fallbacks() int {
	n := 0
	for _, f := range r.Files {
		if f.Kind == document.KindRaw {
			n++
		}
	}
	return n
}

func fileInfo(res document.Result) FileInfo {
	id := res.Source()
	info := FileInfo{
		Index:       id.Index,
		Filename:    id.Filename,
		ContentType: id.MediaType.String(),
		Size:        id.Size,
		SHA256:      id.SHA256,
		Kind:        res.Kind(),
	}
	switch r := res.(type) {
	case document.ExtractedText:
		info.Pages = r.Pages
		info.FailedPages = r.FailedPages
		info.Confidence = r.Confidence
	case document.RawFallback:
		info.Reason = r.Reason
	}
	return info
}

// Render turns a verdict into the plain text answer stored in history and printed by the CLI.
func Render(v *ai.Verdict, files []FileInfo) string {
	if v == nil {
		return ""
	}

	var b strings.Builder
	if v.Mode == document.ModeSummarize {
		if v.Answer != "" {
			b.WriteString(v.Answer)
			b.WriteString("\n")
		}
		for _, c := range v.Candidates {
			b.WriteString(strings.Repeat("=", 60))
			fmt.Fprintf(&b, "\nRÉSUMÉ #%d: %s - Summary\n", c.Document+1, filenameOf(c.Document, c.Filename, files))
			b.WriteString(strings.Repeat("=", 60))
			b.WriteString("\n")
			if c.Name != "" {
				fmt.Fprintf(&b, "Candidate: %s\n", c.Name)
			}
			b.WriteString(strings.TrimSpace(c.Summary))
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String())
	}

	b.WriteString(v.Answer)
	if v.Best != nil {
		// The best pick may only carry an index; the rest comes from its assessment.
		assessment, _ := v.Candidate(v.Best.Document)
		filename, name := v.Best.Filename, v.Best.CandidateName
		if filename == "" {
			filename = assessment.Filename
		}
		if name == "" {
			name = assessment.Name
		}

		b.WriteString("\n\n")
		fmt.Fprintf(&b, "Best résumé: %s\n", filenameOf(v.Best.Document, filename, files))
		if name != "" {
			fmt.Fprintf(&b, "Candidate: %s\n", name)
		}
		if assessment.Score > 0 {
			fmt.Fprintf(&b, "Score: %.2f\n", assessment.Score)
		}
		if v.Best.Justification != "" {
			fmt.Fprintf(&b, "Justification: %s\n", v.Best.Justification)
		}
	}
	return strings.TrimSpace(b.String())
}

func filenameOf(index int, filename string, files []FileInfo) string {
	if filename != "" {
		return filename
	}
	for _, f := range files {
		if f.Index == index {
			return f.Filename
		}
	}
	return fmt.Sprintf("document %d", index)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
