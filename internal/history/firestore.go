package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

const defaultCollection = "requests"

// documentAdder is the part of *firestore.CollectionRef used to append entries.
type documentAdder interface {
	Add(ctx context.Context, data interface{}) (*firestore.DocumentRef, *firestore.WriteResult, error)
}

// Firestore appends every entry as a new document with a generated id, so repeated request ids keep all
// of their attempts like the SQLite table does.
type Firestore struct {
	client  *firestore.Client
	entries documentAdder
}

var _ Recorder = (*Firestore)(nil)

// NewFirestore creates a Firestore client for the project. An empty collection selects "requests".
func NewFirestore(ctx context.Context, projectID, collection string) (*Firestore, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("project id must be provided to create a firestore client")
	}
	if strings.TrimSpace(collection) == "" {
		collection = defaultCollection
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &Firestore{client: client, entries: client.Collection(collection)}, nil
}

// Record appends the entry.
func (f *Firestore) Record(ctx context.Context, e Entry) error {
	e = e.Normalized()
	if _, _, err := f.entries.Add(ctx, e); err != nil {
		return fmt.Errorf("write history entry %s: %w", e.RequestID, err)
	}
	return nil
}

func (f *Firestore) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
