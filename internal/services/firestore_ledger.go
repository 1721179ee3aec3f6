package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/flyerextract/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreLedger keeps one document per flyer, named by the content digest.
type FirestoreLedger struct {
	mu         sync.Mutex
	collection *firestore.CollectionRef
	now        func() time.Time
}

func NewFirestoreLedger(client *firestore.Client, collection string) (*FirestoreLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("NewFirestoreLedger: client cannot be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("NewFirestoreLedger: collection cannot be empty")
	}
	return &FirestoreLedger{collection: client.Collection(collection), now: time.Now}, nil
}

func (l *FirestoreLedger) Lookup(ctx context.Context, key string) (models.LedgerEntry, bool, error) {
	snap, err := l.collection.Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.LedgerEntry{}, false, nil
	}
	if err != nil {
		return models.LedgerEntry{}, false, &LedgerIOError{Op: "lookup", Err: err}
	}
	var entry models.LedgerEntry
	if err := snap.DataTo(&entry); err != nil {
		return models.LedgerEntry{}, false, &LedgerIOError{Op: "lookup", Err: fmt.Errorf("decode %s: %w", key, err)}
	}
	return entry, true, nil
}

// RecordResult overwrites the document for the flyer with its latest outcome.
func (l *FirestoreLedger) RecordResult(ctx context.Context, src models.FlyerSource, outcome models.Outcome, offerCount int, cause error) error {
	entry := newLedgerEntry(src, outcome, offerCount, cause, l.now())

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.collection.Doc(entry.Key).Set(ctx, entry); err != nil {
		return &LedgerIOError{Op: "append", Err: err}
	}
	return nil
}

func (l *FirestoreLedger) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	iter := l.collection.Documents(ctx)
	defer iter.Stop()

	var out []models.LedgerEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &LedgerIOError{Op: "read", Err: err}
		}
		var entry models.LedgerEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, &LedgerIOError{Op: "read", Err: fmt.Errorf("decode %s: %w", snap.Ref.ID, err)}
		}
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

// Close is a no-op; the Firestore client is owned by the caller.
func (l *FirestoreLedger) Close() error { return nil }
