// Package archive keeps the originals of documents that were forwarded as raw fallback, so failed
// extractions can be inspected later.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
)

// GCS writes fallback originals into a bucket. Objects are never overwritten.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	logger *zap.Logger
}

// NewGCS creates a storage client using application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string, log *zap.Logger) (*GCS, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("archive bucket must be set")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
		logger: logger.WithFields(log, zap.String("bucket", bucket)),
	}, nil
}

// Store uploads the original bytes of every fallback of the batch and returns the object names.
func (g *GCS) Store(ctx context.Context, batch *document.Batch) ([]string, error) {
	var names []string
	for _, raw := range batch.Fallbacks() {
		name := ObjectName(g.prefix, batch.ID, raw.Document)
		if err := g.save(ctx, name, raw); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (g *GCS) save(ctx context.Context, name string, raw document.RawFallback) error {
	writer := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = string(raw.MIMEType)
	writer.Metadata = map[string]string{
		"filename": raw.Document.Filename,
		"sha256":   raw.Document.SHA256,
		"reason":   raw.Reason,
	}

	if _, err := io.Copy(writer, bytes.NewReader(raw.Data)); err != nil {
		_ = writer.Close()
		if alreadyExists(err) {
			g.logger.Debug("archived original already exists", zap.String("object", name))
			return nil
		}
		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			g.logger.Debug("archived original already exists", zap.String("object", name))
			return nil
		}
		return fmt.Errorf("finalize %s: %w", name, err)
	}

	g.logger.Info("original archived", zap.String("object", name), zap.Int("size", len(raw.Data)))
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// ObjectName places the original under its batch and document index. The filename is reduced to its base
// name so uploads cannot escape the batch prefix.
func ObjectName(prefix, batchID string, id document.Identity) string {
	base := path.Base(strings.ReplaceAll(id.Filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, base)

	name := fmt.Sprintf("%s/%03d-%s", batchID, id.Index, base)
	if prefix != "" {
		name = prefix + "/" + name
	}
	return name
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
