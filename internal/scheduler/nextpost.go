package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// NextPostScheduler is the lighter companion pass: it gives the oldest draft
// of every client a concrete publish time at the best local hour. It never
// consults the quota ledger (it only assigns time to content that already
// exists) and the status guard keeps it away from scheduled or posted rows.
type NextPostScheduler struct {
	db          *sql.DB
	defaultZone string
}

func NewNextPostScheduler(db *sql.DB, defaultZone string) *NextPostScheduler {
	return &NextPostScheduler{db: db, defaultZone: defaultZone}
}

// bestPostHour returns the local hour with the best expected engagement.
// TODO: replace the flat default with per-client A/B data once we collect
// enough posted_at/engagement pairs.
func bestPostHour(city string) int {
	return 11
}

// RunOnce assigns a target time to at most one draft per client. If the best
// hour already passed today it rolls to tomorrow.
func (s *NextPostScheduler) RunOnce(ctx context.Context, nowUTC time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(city, ''), timezone
		  FROM public.clients
	`)
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	type clientRow struct {
		id   string
		city string
		tz   string
	}
	clients := make([]clientRow, 0)
	for rows.Next() {
		var c clientRow
		if err := rows.Scan(&c.id, &c.city, &c.tz); err != nil {
			return 0, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}

	assigned := 0
	for _, c := range clients {
		var postID string
		err := s.db.QueryRowContext(ctx, `
			SELECT id
			  FROM public.posts
			 WHERE client_id = $1 AND status = 'draft'
			 ORDER BY created_at ASC
			 LIMIT 1
		`, c.id).Scan(&postID)
		if err == sql.ErrNoRows {
			continue // nothing to schedule
		}
		if err != nil {
			log.Printf("[NextPost] draft lookup failed clientId=%s err=%v", c.id, err)
			continue
		}

		loc := ResolveZone(c.tz, s.defaultZone)
		local := nowUTC.In(loc)
		target := time.Date(local.Year(), local.Month(), local.Day(), bestPostHour(c.city), 0, 0, 0, loc)
		if !target.After(local) {
			target = target.AddDate(0, 0, 1)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE public.posts
			   SET status = 'scheduled',
			       scheduled_at = $2
			 WHERE id = $1 AND status = 'draft'
		`, postID, target)
		if err != nil {
			log.Printf("[NextPost] assign failed clientId=%s postId=%s err=%v", c.id, postID, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // claimed by another pass in the meantime
		}
		assigned++
		log.Printf("[NextPost] assigned clientId=%s postId=%s scheduledAt=%s", c.id, postID, target.UTC().Format(time.RFC3339))
	}
	return assigned, nil
}

// Start runs the assignment pass on a fixed interval until ctx is cancelled.
func (s *NextPostScheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	log.Printf("[NextPost] worker started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		passCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := s.RunOnce(passCtx, time.Now().UTC()); err != nil {
			log.Printf("[NextPost] pass error err=%v", err)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[NextPost] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}
