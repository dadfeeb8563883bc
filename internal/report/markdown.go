package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/spigell/cv-ranker/internal/document"
)

// MarkdownWriter outputs reports for people.
type MarkdownWriter struct {
	baseWriter
}

func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

func (w *MarkdownWriter) Write(r *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, r)
	w.writeFiles(md, r)
	w.writeVerdict(md, r)
	w.writeTexts(md, r)

	if len(r.Archived) > 0 {
		md.H2("Archived originals")
		md.PlainText("")
		md.BulletList(r.Archived...)
		md.PlainText("")
	}

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, r *Report) {
	md.H1("Résumé analysis")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Request", "`" + r.RequestID + "`"},
			{"User", cell(r.UserID)},
			{"Query", cell(r.Query)},
			{"Mode", string(r.Mode)},
			{"Files", strconv.Itoa(r.FilesProcessed)},
			{"Generated", r.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFiles(md *markdown.Markdown, r *Report) {
	md.H2("Documents")
	md.PlainText("")

	rows := make([][]string, 0, len(r.Files))
	for _, f := range r.Files {
		rows = append(rows, []string{
			strconv.Itoa(f.Index),
			cell(f.Filename),
			f.ContentType,
			strconv.Itoa(f.Size),
			pathLabel(f),
			cell(f.Reason),
		})
	}
	md.Table(markdown.TableSet{
		Header:    []string{"#", "File", "Type", "Bytes", "Content sent", "Fallback reason"},
		Rows:      rows,
		Alignment: []markdown.TableAlignment{markdown.AlignRight},
	})
	md.PlainText("")

	if n := r.Fallbacks(); n > 0 {
		md.Notef("%d of %d documents were sent as original files because their text could not be extracted.", n, len(r.Files))
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeVerdict(md *markdown.Markdown, r *Report) {
	if r.Verdict == nil {
		return
	}

	md.H2("Result")
	md.PlainText("")
	md.PlainText(r.Result)
	md.PlainText("")

	if len(r.Verdict.Candidates) == 0 {
		return
	}

	md.H2("Candidates")
	md.PlainText("")
	for _, c := range r.Verdict.Candidates {
		title := filenameOf(c.Document, c.Filename, r.Files)
		if c.Name != "" {
			title = c.Name + " (" + title + ")"
		}
		if c.Rank > 0 {
			title = fmt.Sprintf("%d. %s", c.Rank, title)
		}
		md.H3(title)
		md.PlainText("")
		if r.Verdict.Mode == document.ModeCompare && c.Score > 0 {
			md.PlainTextf("Score: %.2f", c.Score)
			md.PlainText("")
		}
		if c.Summary != "" {
			md.PlainText(c.Summary)
			md.PlainText("")
		}
		if len(c.Strengths) > 0 {
			md.PlainText("Strengths:")
			md.BulletList(c.Strengths...)
			md.PlainText("")
		}
		if len(c.Weaknesses) > 0 {
			md.PlainText("Weaknesses:")
			md.BulletList(c.Weaknesses...)
			md.PlainText("")
		}
	}
}

func (w *MarkdownWriter) writeTexts(md *markdown.Markdown, r *Report) {
	written := false
	for _, f := range r.Files {
		if f.Text == "" {
			continue
		}
		if !written {
			md.H2("Extracted text")
			md.PlainText("")
			written = true
		}
		md.Details(f.Filename, "\n"+f.Text+"\n")
		md.PlainText("")
	}
}

func pathLabel(f FileInfo) string {
	if f.Kind == document.KindRaw {
		return "original file"
	}
	label := fmt.Sprintf("text, %d/%d pages", f.Pages-f.FailedPages, f.Pages)
	if f.Confidence > 0 {
		label += fmt.Sprintf(", confidence %.2f", f.Confidence)
	}
	return label
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
