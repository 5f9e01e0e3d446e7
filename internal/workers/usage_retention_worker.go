package workers

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// UsageRetentionWorker removes weekly_usage rows older than the configured
// retention window. Old weeks are never read again by the ledger, so this is
// pure housekeeping to keep the table small.
type UsageRetentionWorker struct {
	DB             *sql.DB
	RetentionWeeks int           // how many weeks of usage accounting to keep (default: 26)
	CheckInterval  time.Duration // how often to run cleanup (default: 24h)
}

// Start begins the retention worker loop.
func (w *UsageRetentionWorker) Start(ctx context.Context) {
	if w.RetentionWeeks <= 0 {
		w.RetentionWeeks = 26
	}
	if w.CheckInterval <= 0 {
		w.CheckInterval = 24 * time.Hour
	}

	ticker := time.NewTicker(w.CheckInterval)
	defer ticker.Stop()

	log.Printf("[UsageRetentionWorker] started (retention=%dw, interval=%s)", w.RetentionWeeks, w.CheckInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[UsageRetentionWorker] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *UsageRetentionWorker) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -7*w.RetentionWeeks)

	result, err := w.DB.ExecContext(ctx, `
		DELETE FROM public.weekly_usage
		WHERE week_start < $1
	`, cutoff)
	if err != nil {
		log.Printf("[UsageRetentionWorker] error: %v", err)
		return
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		log.Printf("[UsageRetentionWorker] error getting rows affected: %v", err)
		return
	}

	if deleted > 0 {
		log.Printf("[UsageRetentionWorker] deleted %d stale weekly usage rows", deleted)
	}
}
