package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/odvcencio/arbor/pkg/object"
)

// TransactionStats summarizes a committed transaction.
type TransactionStats struct {
	ID             string
	ObjectsWritten int
	DevinoRecorded int
	Duration       time.Duration
}

type transaction struct {
	id      string
	started time.Time
	devino  *devinoCache
	pending []devinoEntry
}

func (r *Repo) devinoPath() string {
	return filepath.Join(r.Path, "cache", "devino.db")
}

// PrepareTransaction opens a transaction. Objects written through r.Store
// are staged until CommitTransaction and dropped by AbortTransaction. With
// linkCheckoutSpeedup the device/inode cache is consulted and extended.
func (r *Repo) PrepareTransaction(ctx context.Context, linkCheckoutSpeedup bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.InTransaction() {
		return fmt.Errorf("prepare transaction: transaction %s already open", r.txn.id)
	}

	txn := &transaction{id: uuid.NewString(), started: time.Now()}
	if err := r.Store.BeginStaging(txn.id); err != nil {
		return fmt.Errorf("prepare transaction: %w", err)
	}
	if linkCheckoutSpeedup {
		cache, err := openDevinoCache(r.devinoPath())
		if err != nil {
			_ = r.Store.Discard()
			return fmt.Errorf("prepare transaction: %w", err)
		}
		txn.devino = cache
	}
	r.txn = txn
	r.log().Debug("transaction prepared", "id", txn.id, "devino", linkCheckoutSpeedup)
	return nil
}

// InTransaction reports whether a transaction is open.
func (r *Repo) InTransaction() bool {
	return r.txn != nil
}

// CommitTransaction makes every staged object permanent. On failure the
// transaction stays open so the caller can abort it.
func (r *Repo) CommitTransaction(ctx context.Context) (*TransactionStats, error) {
	txn := r.txn
	if txn == nil {
		return nil, fmt.Errorf("commit transaction: no transaction open")
	}
	n, err := r.Store.Promote(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit transaction %s: %w", txn.id, err)
	}

	stats := &TransactionStats{ID: txn.id, ObjectsWritten: n}
	if txn.devino != nil {
		// The objects are already permanent; a cache failure only costs speed.
		if err := txn.devino.store(ctx, txn.pending); err != nil {
			r.log().Warn("devino cache not updated", "err", err)
		} else {
			stats.DevinoRecorded = len(txn.pending)
		}
		_ = txn.devino.close()
	}
	r.txn = nil
	stats.Duration = time.Since(txn.started)
	r.log().Debug("transaction committed", "id", stats.ID, "objects", stats.ObjectsWritten, "duration", stats.Duration)
	return stats, nil
}

// AbortTransaction discards everything staged by the open transaction. It
// is a no-op when no transaction is open.
func (r *Repo) AbortTransaction() error {
	txn := r.txn
	if txn == nil {
		return nil
	}
	r.txn = nil
	err := r.Store.Discard()
	if txn.devino != nil {
		_ = txn.devino.close()
	}
	if err != nil {
		return fmt.Errorf("abort transaction %s: %w", txn.id, err)
	}
	r.log().Debug("transaction aborted", "id", txn.id)
	return nil
}

// DevinoEnabled reports whether the open transaction uses the device/inode
// cache.
func (r *Repo) DevinoEnabled() bool {
	return r.InTransaction() && r.txn.devino != nil
}

// LookupDevino returns the cached file checksum for k. Hits are only
// reported for objects still present in the store.
func (r *Repo) LookupDevino(ctx context.Context, k DevinoKey) (object.Hash, bool) {
	if !r.DevinoEnabled() {
		return "", false
	}
	h, ok, err := r.txn.devino.lookup(ctx, k)
	if err != nil {
		r.log().Debug("devino lookup failed", "err", err)
		return "", false
	}
	if !ok || !r.Store.Has(h) {
		return "", false
	}
	return h, true
}

// RecordDevino remembers that k produced the file object h. Entries are
// written to the cache when the transaction commits.
func (r *Repo) RecordDevino(k DevinoKey, h object.Hash) {
	if !r.DevinoEnabled() {
		return
	}
	r.txn.pending = append(r.txn.pending, devinoEntry{key: k, sum: h})
}
