// Package ledger is the durable record of a run: an append-only results log
// and a deduplicated seen-set of targets whose processing has concluded.
//
// Every mutation is persisted before it returns, so an interruption between
// targets never loses a completed one.
package ledger

import (
	"context"

	"github.com/use-agent/harvest/models"
)

// SeenSet is a durable, deduplicated set of target identifiers.
// Members are never removed.
type SeenSet interface {
	Contains(ctx context.Context, target string) (bool, error)

	// Add persists target. Adding an existing member is a no-op.
	Add(ctx context.Context, target string) error

	// Members returns every member; order is unspecified.
	Members(ctx context.Context) ([]string, error)

	Close() error
}

// ResultLog is an append-only log of extracted records.
type ResultLog interface {
	Append(ctx context.Context, rec *models.Company) error
	Close() error
}

// Ledger pairs the seen-set with the results log.
type Ledger struct {
	seen    SeenSet
	results ResultLog
}

// New creates a Ledger over the given stores. The Ledger owns both and
// closes them in Close.
func New(seen SeenSet, results ResultLog) *Ledger {
	return &Ledger{seen: seen, results: results}
}

// IsSeen reports whether target has terminally concluded in this or an
// earlier run.
func (l *Ledger) IsSeen(ctx context.Context, target string) (bool, error) {
	ok, err := l.seen.Contains(ctx, target)
	if err != nil {
		return false, models.NewHarvestError(models.ErrCodeLedgerWrite, "seen-set lookup failed", err)
	}
	return ok, nil
}

// MarkSeen records target as concluded. Re-marking is harmless.
func (l *Ledger) MarkSeen(ctx context.Context, target string) error {
	if err := l.seen.Add(ctx, target); err != nil {
		return models.NewHarvestError(models.ErrCodeLedgerWrite, "failed to persist seen-set", err)
	}
	return nil
}

// AppendResult appends one record to the results log.
func (l *Ledger) AppendResult(ctx context.Context, rec *models.Company) error {
	if err := l.results.Append(ctx, rec); err != nil {
		return models.NewHarvestError(models.ErrCodeLedgerWrite, "failed to append result", err)
	}
	return nil
}

// RecordSuccess appends rec and then marks target seen. The target is the
// queue entry that was processed, whatever URL the record carries. The order
// means a crash between the two writes can repeat a record on resume but can
// never leave a seen target without its record.
func (l *Ledger) RecordSuccess(ctx context.Context, target string, rec *models.Company) error {
	if err := l.AppendResult(ctx, rec); err != nil {
		return err
	}
	return l.MarkSeen(ctx, target)
}

// RecordAbsent marks a confirmed-absent target seen without a record.
func (l *Ledger) RecordAbsent(ctx context.Context, target string) error {
	return l.MarkSeen(ctx, target)
}

// Seen returns every seen target.
func (l *Ledger) Seen(ctx context.Context) ([]string, error) {
	members, err := l.seen.Members(ctx)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeLoad, "failed to read seen-set", err)
	}
	return members, nil
}

// Close closes both stores.
func (l *Ledger) Close() error {
	err1 := l.results.Close()
	err2 := l.seen.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
