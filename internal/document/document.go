package document

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// MediaType is the normalized content type of an uploaded document.
type MediaType string

const (
	MediaPDF  MediaType = "application/pdf"
	MediaJPEG MediaType = "image/jpeg"
	MediaPNG  MediaType = "image/png"
	MediaDOCX MediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Supported reports whether the pipeline knows how to turn the media type into pages.
func (m MediaType) Supported() bool {
	switch m {
	case MediaPDF, MediaJPEG, MediaPNG, MediaDOCX:
		return true
	default:
		return false
	}
}

func (m MediaType) String() string { return string(m) }

var extensions = map[string]MediaType{
	".pdf":  MediaPDF,
	".jpg":  MediaJPEG,
	".jpeg": MediaJPEG,
	".png":  MediaPNG,
	".docx": MediaDOCX,
}

// Upload is a single file received as part of a batch. It is never modified after it was created.
type Upload struct {
	// Index is the zero-based position of the file in its batch.
	Index    int
	Filename string
	// MediaType is the declared type. When empty it is derived from the filename and the content.
	MediaType MediaType
	Data      []byte
	UserID    string
}

// Identity is the provenance of a document result.
type Identity struct {
	Index     int       `json:"index"`
	Filename  string    `json:"filename"`
	MediaType MediaType `json:"content_type"`
	Size      int       `json:"size"`
	SHA256    string    `json:"sha256"`
}

// Identity returns the provenance record of the upload.
func (u Upload) Identity() Identity {
	sum := sha256.Sum256(u.Data)
	return Identity{
		Index:     u.Index,
		Filename:  u.Filename,
		MediaType: u.ResolvedMediaType(),
		Size:      len(u.Data),
		SHA256:    hex.EncodeToString(sum[:]),
	}
}

// ResolvedMediaType picks the media type used for normalization: a supported declared type wins,
// then the filename extension, then content sniffing. Unknown content keeps the declared or sniffed type.
func (u Upload) ResolvedMediaType() MediaType {
	declared := normalizeDeclared(u.MediaType)
	if declared.Supported() {
		return declared
	}

	if byExt, ok := extensions[strings.ToLower(filepath.Ext(u.Filename))]; ok {
		return byExt
	}

	sniffed := Sniff(u.Data)
	if sniffed.Supported() {
		return sniffed
	}

	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byMime := mime.TypeByExtension(filepath.Ext(u.Filename)); byMime != "" {
		return normalizeDeclared(MediaType(byMime))
	}
	return sniffed
}

// Sniff detects the media type from the payload. DOCX files are zip archives, so zip payloads are only
// reported as DOCX when they contain the main document part.
func Sniff(data []byte) MediaType {
	detected := normalizeDeclared(MediaType(http.DetectContentType(data)))
	if detected == "application/zip" && looksLikeDOCX(data) {
		return MediaDOCX
	}
	return detected
}

func normalizeDeclared(m MediaType) MediaType {
	raw := strings.TrimSpace(strings.ToLower(string(m)))
	if raw == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(raw); err == nil {
		raw = parsed
	}
	switch raw {
	case "image/jpg", "image/pjpeg":
		return MediaJPEG
	case "application/x-pdf":
		return MediaPDF
	}
	return MediaType(raw)
}

func looksLikeDOCX(data []byte) bool {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}
