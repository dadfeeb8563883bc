package normalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"iter"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
)

// Text layers shorter than this are treated as page furniture (page numbers, headers) and the page is
// rendered from its images when it has any.
const minTextLayerRunes = 16

var disableConfigDir sync.Once

func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (n *Normalizer) pdfPages(ctx context.Context, u document.Upload, log *zap.Logger) (iter.Seq2[document.Page, error], error) {
	var count int
	err := safely("count pdf pages", func() error {
		var err error
		count, err = api.PageCount(bytes.NewReader(u.Data), pdfConfig())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read pdf %q: %w", u.Filename, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("read pdf %q: %w", u.Filename, ErrNoContent)
	}

	text := openTextLayer(u.Data)
	log.Debug("pdf opened", zap.Int("pages", count), zap.Bool("text_layer", text != nil))

	return sequence(ctx, count, func(i int) (document.Page, error) {
		layer := text.page(i + 1)
		if utf8.RuneCountInString(layer) >= minTextLayerRunes {
			return document.Page{TextLayer: layer, Format: document.MediaPDF}, nil
		}

		img, err := n.pdfPageImage(u.Data, i+1)
		if err != nil {
			if layer != "" {
				return document.Page{TextLayer: layer, Format: document.MediaPDF}, nil
			}
			log.Debug("pdf page has no usable content", zap.Int("page", i), zap.Error(err))
			return document.Page{}, err
		}
		return document.Page{Image: img, Format: document.MediaPNG}, nil
	}), nil
}

// pdfPageImage extracts the embedded images of one page and prepares the largest one for OCR. Scanned
// résumés carry one full page image, so the largest image is the page itself.
func (n *Normalizer) pdfPageImage(data []byte, pageNr int) ([]byte, error) {
	var pages []map[int]model.Image
	err := safely("extract pdf images", func() error {
		var err error
		pages, err = api.ExtractImagesRaw(bytes.NewReader(data), []string{strconv.Itoa(pageNr)}, pdfConfig())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("extract images of page %d: %w", pageNr, err)
	}

	var best image.Image
	bestArea := 0
	for _, images := range pages {
		for _, embedded := range images {
			var decoded image.Image
			if err := safely("decode pdf image", func() error {
				var err error
				decoded, _, err = image.Decode(embedded)
				return err
			}); err != nil {
				n.logger.Debug("skipping undecodable pdf image",
					zap.Int("page", pageNr),
					zap.String("name", embedded.Name),
					zap.String("type", embedded.FileType),
					zap.Error(err),
				)
				continue
			}

			b := decoded.Bounds()
			if area := b.Dx() * b.Dy(); area > bestArea {
				best, bestArea = decoded, area
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("page %d: %w", pageNr, ErrNoContent)
	}
	return encodePNG(upscale(best, n.minWidth))
}

// textLayer reads the text content of PDF pages. A nil textLayer has no text.
type textLayer struct {
	reader *pdf.Reader
	fonts  map[string]*pdf.Font
}

func openTextLayer(data []byte) *textLayer {
	var layer *textLayer
	_ = safely("open pdf text layer", func() error {
		reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		layer = &textLayer{reader: reader, fonts: make(map[string]*pdf.Font)}
		return nil
	})
	return layer
}

// page returns the trimmed text of the 1-based page number. Pages are read sequentially by one
// goroutine, so the font cache needs no locking.
func (t *textLayer) page(num int) string {
	if t == nil {
		return ""
	}

	var text string
	_ = safely("read pdf text", func() error {
		p := t.reader.Page(num)
		if p.V.IsNull() {
			return nil
		}
		for _, name := range p.Fonts() {
			if _, ok := t.fonts[name]; !ok {
				font := p.Font(name)
				t.fonts[name] = &font
			}
		}
		content, err := p.GetPlainText(t.fonts)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(content)
		return nil
	})
	return text
}
