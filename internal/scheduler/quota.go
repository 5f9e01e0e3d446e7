package scheduler

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/glowpost/backend/internal/models"
)

// Ledger tracks posts made per client per accounting week against the client's
// plan limit. All state lives in Postgres; the ledger itself is stateless so
// overlapping passes stay safe.
type Ledger struct {
	db           *sql.DB
	defaultLimit int
}

func NewLedger(db *sql.DB, defaultLimit int) *Ledger {
	if defaultLimit < 0 {
		defaultLimit = 3
	}
	return &Ledger{db: db, defaultLimit: defaultLimit}
}

// WeeklyLimit resolves the client's active plan limit. Missing subscription
// falls back to the "free" plan; a missing free plan falls back to the
// configured default. Lookup problems degrade to the default rather than
// blocking the pass.
func (l *Ledger) WeeklyLimit(ctx context.Context, clientID string) int {
	var limit int
	err := l.db.QueryRowContext(ctx, `
		SELECT p.weekly_post_limit
		  FROM public.client_subscriptions s
		  JOIN public.subscription_plans p ON p.id = s.plan_id
		 WHERE s.client_id = $1
	`, clientID).Scan(&limit)
	if err == nil {
		return limit
	}
	if err != sql.ErrNoRows {
		log.Printf("[QuotaLedger] plan lookup failed clientId=%s err=%v", clientID, err)
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT weekly_post_limit FROM public.subscription_plans WHERE name = 'free'
	`).Scan(&limit)
	if err == nil {
		return limit
	}
	if err != sql.ErrNoRows {
		log.Printf("[QuotaLedger] free plan lookup failed err=%v", err)
	}
	return l.defaultLimit
}

// UsageFor returns the usage row for (client, weekStart), creating it with
// posts_made=0 on first need. The insert is idempotent: concurrent passes
// racing to create the same week's row is expected, and the unique constraint
// plus ON CONFLICT makes the loser simply reselect.
func (l *Ledger) UsageFor(ctx context.Context, clientID string, weekStart time.Time) (models.WeeklyUsage, error) {
	var u models.WeeklyUsage

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO public.weekly_usage (id, client_id, week_start, posts_made)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (client_id, week_start) DO NOTHING
	`, fmt.Sprintf("wu_%s", randHex(12)), clientID, weekStart)
	if err != nil && !isUniqueViolation(err) {
		return u, fmt.Errorf("create weekly usage: %w", err)
	}

	err = l.db.QueryRowContext(ctx, `
		SELECT id, client_id, week_start, posts_made
		  FROM public.weekly_usage
		 WHERE client_id = $1 AND week_start = $2
	`, clientID, weekStart).Scan(&u.ID, &u.ClientID, &u.WeekStart, &u.PostsMade)
	if err != nil {
		return u, fmt.Errorf("load weekly usage: %w", err)
	}
	return u, nil
}

// MayPost reports whether the client is under their weekly limit for the week
// containing nowUTC.
func (l *Ledger) MayPost(ctx context.Context, clientID string, nowUTC time.Time) (bool, error) {
	u, err := l.UsageFor(ctx, clientID, WeekStart(nowUTC))
	if err != nil {
		return false, err
	}
	return u.PostsMade < l.WeeklyLimit(ctx, clientID), nil
}

// RecordPost increments the client's posts_made for the current week by one.
// The increment is a single atomic UPDATE so concurrent passes serialize at
// the row, not in application memory.
func (l *Ledger) RecordPost(ctx context.Context, clientID string, nowUTC time.Time) error {
	ws := WeekStart(nowUTC)
	res, err := l.db.ExecContext(ctx, `
		UPDATE public.weekly_usage
		   SET posts_made = posts_made + 1
		 WHERE client_id = $1 AND week_start = $2
	`, clientID, ws)
	if err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	// Row missing (first action of the week raced a cleanup, or MayPost was
	// skipped): create it and increment once.
	if _, err := l.UsageFor(ctx, clientID, ws); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, `
		UPDATE public.weekly_usage
		   SET posts_made = posts_made + 1
		 WHERE client_id = $1 AND week_start = $2
	`, clientID, ws); err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func randHex(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
