package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/flyerextract/internal/models"
	"github.com/gofrs/flock"
)

// Ledger is the durable record of flyers that reached a terminal outcome.
// Implementations must be safe for concurrent use.
type Ledger interface {
	Lookup(ctx context.Context, key string) (models.LedgerEntry, bool, error)
	RecordResult(ctx context.Context, src models.FlyerSource, outcome models.Outcome, offerCount int, cause error) error
	Entries(ctx context.Context) ([]models.LedgerEntry, error)
	Close() error
}

// ShouldSkip decides whether src was already handled. Any recorded outcome
// skips the flyer, except failures when retryFailed is set.
func ShouldSkip(ctx context.Context, ledger Ledger, src models.FlyerSource, retryFailed bool) (models.LedgerEntry, bool, error) {
	entry, found, err := ledger.Lookup(ctx, src.Key())
	if err != nil || !found {
		return entry, false, err
	}
	if retryFailed && entry.Outcome == models.OutcomeFailure {
		return entry, false, nil
	}
	return entry, true, nil
}

func newLedgerEntry(src models.FlyerSource, outcome models.Outcome, offerCount int, cause error, now time.Time) models.LedgerEntry {
	entry := models.LedgerEntry{
		Key:         src.Key(),
		SourcePath:  src.Path,
		FileName:    src.FileName,
		Outcome:     outcome,
		OfferCount:  offerCount,
		ProcessedAt: now.UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return entry
}

// FileLedger stores entries as JSON Lines. The whole file is read at open;
// later lines for the same key win. Every append is fsynced before
// RecordResult returns.
type FileLedger struct {
	mu      sync.Mutex
	path    string
	lock    *flock.Flock
	file    *os.File
	entries map[string]models.LedgerEntry
	now     func() time.Time
}

// OpenFileLedger loads the ledger at path, creating it if needed, and holds an
// advisory lock on <path>.lock so two runs never share one ledger. The OS
// drops the lock when the holder exits, so a crashed run leaves nothing to
// clean up.
func OpenFileLedger(path string) (*FileLedger, error) {
	if path == "" {
		return nil, &LedgerIOError{Op: "open", Err: errors.New("ledger path cannot be empty")}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &LedgerIOError{Op: "open", Err: err}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &LedgerIOError{Op: "lock", Err: err}
	}
	if !locked {
		return nil, &LedgerIOError{Op: "lock", Err: fmt.Errorf("%s is held by another run", lock.Path())}
	}

	l := &FileLedger{
		path:    path,
		lock:    lock,
		entries: make(map[string]models.LedgerEntry),
		now:     time.Now,
	}
	if err := l.load(); err != nil {
		lock.Unlock()
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, &LedgerIOError{Op: "open", Err: err}
	}
	l.file = file
	return l, nil
}

func (l *FileLedger) load() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &LedgerIOError{Op: "read", Err: err}
	}

	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var entry models.LedgerEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Key == "" {
			if i == len(lines)-1 {
				// Only an unterminated last line can come from a crash mid-append.
				slog.Warn("Ignoring truncated final ledger line.", "path", l.path, "line", i+1)
				return l.truncateTo(int64(bytes.LastIndexByte(data, '\n') + 1))
			}
			if err == nil {
				err = errors.New("entry without key")
			}
			return &LedgerIOError{Op: "read", Err: fmt.Errorf("%s line %d: %w", l.path, i+1, err)}
		}
		l.entries[entry.Key] = entry
	}
	return nil
}

// truncateTo drops a partial last line so the next append starts on a fresh line.
func (l *FileLedger) truncateTo(size int64) error {
	if err := os.Truncate(l.path, size); err != nil {
		return &LedgerIOError{Op: "repair", Err: err}
	}
	return nil
}

func (l *FileLedger) Lookup(_ context.Context, key string) (models.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	return entry, ok, nil
}

// RecordResult appends one entry and syncs it to disk.
func (l *FileLedger) RecordResult(_ context.Context, src models.FlyerSource, outcome models.Outcome, offerCount int, cause error) error {
	entry := newLedgerEntry(src, outcome, offerCount, cause, l.now())
	line, err := json.Marshal(entry)
	if err != nil {
		return &LedgerIOError{Op: "append", Err: err}
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return &LedgerIOError{Op: "append", Err: os.ErrClosed}
	}
	if _, err := l.file.Write(line); err != nil {
		return &LedgerIOError{Op: "append", Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &LedgerIOError{Op: "sync", Err: err}
	}
	l.entries[entry.Key] = entry
	return nil
}

// Entries returns the latest entry per key, oldest first.
func (l *FileLedger) Entries(_ context.Context) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	out := make([]models.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.Unlock()
	sortEntries(out)
	return out, nil
}

// Close releases the file handle and the lock.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if unlockErr := l.lock.Unlock(); unlockErr != nil {
		err = errors.Join(err, unlockErr)
	}
	if err != nil {
		return &LedgerIOError{Op: "close", Err: err}
	}
	return nil
}

func sortEntries(entries []models.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ProcessedAt.Equal(entries[j].ProcessedAt) {
			return entries[i].ProcessedAt.Before(entries[j].ProcessedAt)
		}
		return entries[i].Key < entries[j].Key
	})
}
