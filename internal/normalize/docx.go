package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
)

const docxMainPart = "word/document.xml"

func (n *Normalizer) docxPages(ctx context.Context, u document.Upload, log *zap.Logger) (iter.Seq2[document.Page, error], error) {
	archive, err := zip.NewReader(bytes.NewReader(u.Data), int64(len(u.Data)))
	if err != nil {
		return nil, fmt.Errorf("open docx %q: %w", u.Filename, err)
	}

	text, err := docxText(archive)
	if err != nil {
		return nil, fmt.Errorf("read docx %q: %w", u.Filename, err)
	}

	if text != "" {
		log.Debug("docx text layer found", zap.Int("length", len(text)))
		return sequence(ctx, 1, func(int) (document.Page, error) {
			return document.Page{TextLayer: text, Format: document.MediaDOCX}, nil
		}), nil
	}

	media := docxMedia(archive)
	if len(media) == 0 {
		return nil, fmt.Errorf("read docx %q: %w", u.Filename, ErrNoContent)
	}

	log.Debug("docx has no text layer, using embedded images", zap.Int("images", len(media)))
	return sequence(ctx, len(media), func(i int) (document.Page, error) {
		data, err := readZipFile(media[i])
		if err != nil {
			return document.Page{}, err
		}
		img, err := prepareImage(data, n.minWidth)
		if err != nil {
			return document.Page{}, fmt.Errorf("%s: %w", media[i].Name, err)
		}
		return document.Page{Image: img, Format: document.MediaPNG}, nil
	}), nil
}

// docxText returns the paragraphs of the main document part. Paragraphs become lines, tabs and breaks
// are kept.
func docxText(archive *zip.Reader) (string, error) {
	var main *zip.File
	for _, f := range archive.File {
		if f.Name == docxMainPart {
			main = f
			break
		}
	}
	if main == nil {
		return "", fmt.Errorf("%s is missing", docxMainPart)
	}

	rc, err := main.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	inText := false
	decoder := xml.NewDecoder(rc)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxMainPart, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return cleanLines(b.String()), nil
}

func docxMedia(archive *zip.Reader) []*zip.File {
	var media []*zip.File
	for _, f := range archive.File {
		if path.Dir(f.Name) != "word/media" {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
			media = append(media, f)
		}
	}
	sort.Slice(media, func(i, j int) bool { return media[i].Name < media[j].Name })
	return media
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// cleanLines trims every line and collapses runs of blank lines.
func cleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
