package document

import (
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned for uploads without content.
var ErrEmptyPayload = errors.New("document payload is empty")

// UnsupportedFormatError is returned by the normalizer for media types it cannot turn into pages.
// It never aborts a batch: the document is forwarded as raw fallback instead.
type UnsupportedFormatError struct {
	Filename  string
	MediaType MediaType
}

func (e *UnsupportedFormatError) Error() string {
	mediaType := e.MediaType.String()
	if mediaType == "" {
		mediaType = "unknown"
	}
	return fmt.Sprintf("unsupported format %s for %q", mediaType, e.Filename)
}

// EmptyBatchError is returned when a batch has no documents left to process.
type EmptyBatchError struct {
	BatchID string
}

func (e *EmptyBatchError) Error() string {
	if e.BatchID == "" {
		return "batch contains no documents"
	}
	return fmt.Sprintf("batch %s contains no documents", e.BatchID)
}

// IsEmptyBatch reports whether err is or wraps an EmptyBatchError.
func IsEmptyBatch(err error) bool {
	var target *EmptyBatchError
	return errors.As(err, &target)
}
