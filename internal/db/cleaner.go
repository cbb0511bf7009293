package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// deleteExpiredPending locks each claim together with its pending row before
// deleting. A row replaced or verified by a concurrent transaction fails the
// recheck after the lock wait and its claim survives.
const deleteExpiredPending = `
WITH doomed AS (
    SELECT c.email
      FROM identity_emails c
      JOIN pending_identities p ON p.email = c.email
     WHERE c.kind = 'pending'
       AND p.state = 'unverified'
       AND p.code_expires_at < $1
       FOR UPDATE OF c, p
)
DELETE FROM identity_emails c
 USING doomed d
 WHERE c.email = d.email
   AND c.kind = 'pending'`

// DeleteExpiredPending frees the claims of unverified registrations whose code
// expired before cutoff and reports how many were removed.
func DeleteExpiredPending(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, deleteExpiredPending, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartExpiredPendingCleaner removes unverified registrations whose code expired
// more than retention ago. Deleting the email claim cascades to the pending row.
// The goroutine stops when ctx is done; the returned channel is closed then.
func StartExpiredPendingCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rows, err := DeleteExpiredPending(ctx, db, time.Now().Add(-retention))
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Error("failed to clean expired pending identities", zap.Error(err))
					continue
				}
				if rows > 0 {
					log.Info("cleaned expired pending identities", zap.Int64("removed", rows))
				}
			}
		}
	}()
	return done
}
