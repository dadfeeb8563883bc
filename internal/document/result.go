package document

// Page is one logical page of a document: either a raster image to run OCR on or an already
// extractable text layer.
type Page struct {
	// Index is the zero-based page position inside the document.
	Index int
	// Image holds an encoded raster (PNG after normalization).
	Image  []byte
	Format MediaType
	// TextLayer is set when the source format exposes text directly and OCR can be skipped.
	TextLayer string
}

// HasTextLayer reports whether OCR can be skipped for the page.
func (p Page) HasTextLayer() bool { return p.TextLayer != "" }

// TextSource records where the text of a page came from.
type TextSource string

const (
	SourceOCR       TextSource = "ocr"
	SourceTextLayer TextSource = "text-layer"
)

// Outcome is the per-page extraction result. It is either Text or Failed.
type Outcome interface {
	PageIndex() int
	outcome()
}

// Text is a page whose content was recognized.
type Text struct {
	Page       int
	Content    string
	Confidence float64
	Source     TextSource
}

// Failed is a page that produced no usable text.
type Failed struct {
	Page   int
	Reason string
}

func (t Text) PageIndex() int   { return t.Page }
func (f Failed) PageIndex() int { return f.Page }
func (Text) outcome()           {}
func (Failed) outcome()         {}

// ResultKind names the variant of a Result for reports and logs.
type ResultKind string

const (
	KindText ResultKind = "text"
	KindRaw  ResultKind = "raw"
)

// Result is the terminal state of one document. It is either ExtractedText or RawFallback and always
// carries the identity of the upload it was produced from.
type Result interface {
	Source() Identity
	Kind() ResultKind
	result()
}

// ExtractedText carries the page ordered text of a document.
type ExtractedText struct {
	Document Identity
	Text     string
	// Pages is the number of pages seen, FailedPages the ones omitted from Text.
	Pages       int
	FailedPages int
	Confidence  float64
}

// RawFallback forwards the original bytes of a document whose text could not be used.
type RawFallback struct {
	Document Identity
	Data     []byte
	MIMEType MediaType
	Reason   string
}

func (r ExtractedText) Source() Identity { return r.Document }
func (r RawFallback) Source() Identity   { return r.Document }
func (ExtractedText) Kind() ResultKind   { return KindText }
func (RawFallback) Kind() ResultKind     { return KindRaw }
func (ExtractedText) result()            {}
func (RawFallback) result()              {}

// NewRawFallback builds the fallback result for the upload, keeping its original bytes and type.
func NewRawFallback(u Upload, reason string) RawFallback {
	id := u.Identity()
	return RawFallback{
		Document: id,
		Data:     u.Data,
		MIMEType: id.MediaType,
		Reason:   reason,
	}
}
