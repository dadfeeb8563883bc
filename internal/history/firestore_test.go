package history

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
)

type fakeAdder struct {
	added []Entry
	err   error
}

func (f *fakeAdder) Add(_ context.Context, data interface{}) (*firestore.DocumentRef, *firestore.WriteResult, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.added = append(f.added, data.(Entry))
	return nil, &firestore.WriteResult{}, nil
}

func TestFirestoreRecordAppends(t *testing.T) {
	adder := &fakeAdder{}
	fs := &Firestore{entries: adder}
	ctx := context.Background()

	attempts := []Entry{
		{RequestID: "req-1", UserID: "u", Result: "Error: agent timeout", Status: StatusError},
		{RequestID: "req-1", UserID: "u", Result: "Ana fits best."},
	}
	for _, e := range attempts {
		if err := fs.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if len(adder.added) != 2 {
		t.Fatalf("expected both attempts to be kept, got %d", len(adder.added))
	}
	if adder.added[0].Status != StatusError || adder.added[1].Status != StatusSuccess {
		t.Fatalf("unexpected statuses %+v", adder.added)
	}
	for _, e := range adder.added {
		if e.RequestID != "req-1" || e.Timestamp.IsZero() {
			t.Fatalf("entry must be normalized, got %+v", e)
		}
	}

	if err := fs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestFirestoreRecordError(t *testing.T) {
	fs := &Firestore{entries: &fakeAdder{err: errors.New("unavailable")}}
	if err := fs.Record(context.Background(), Entry{RequestID: "req-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewFirestoreRequiresProject(t *testing.T) {
	if _, err := NewFirestore(context.Background(), " ", ""); err == nil {
		t.Fatalf("expected error for an empty project")
	}
}
