package publisher

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"
)

// PublishAction is the external delivery collaborator. The sweeper owes it no
// retry contract: one attempt, then posted or failed.
type PublishAction interface {
	PublishPost(ctx context.Context, pageID, pageToken, message string) (string, error)
}

// Sweeper finds scheduled posts whose time has passed and performs the actual
// publish, transitioning each to posted or failed. Posts are handled
// independently; one bad page token doesn't block the rest of the batch.
type Sweeper struct {
	db        *sql.DB
	publisher PublishAction

	// publishTimeout bounds a single delivery so a hung Graph API call can't
	// stall the sweep.
	publishTimeout time.Duration
	limit          int
}

func NewSweeper(db *sql.DB, publisher PublishAction) *Sweeper {
	return &Sweeper{
		db:             db,
		publisher:      publisher,
		publishTimeout: 60 * time.Second,
		limit:          25,
	}
}

type duePost struct {
	id        string
	clientID  string
	caption   string
	hashtags  string
	pageID    string
	pageToken string
}

// SweepOnce publishes every scheduled post with scheduled_at <= nowUTC.
// Posts scheduled in the future are left untouched.
func (s *Sweeper) SweepOnce(ctx context.Context, nowUTC time.Time) (posted, failed int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.client_id, p.caption, p.hashtags,
		       COALESCE(c.facebook_page_id, ''), COALESCE(c.facebook_page_token, '')
		  FROM public.posts p
		  JOIN public.clients c ON c.id = p.client_id
		 WHERE p.status = 'scheduled'
		   AND p.scheduled_at IS NOT NULL
		   AND p.scheduled_at <= $1
		 ORDER BY p.scheduled_at ASC
		 LIMIT $2
	`, nowUTC, s.limit)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	due := make([]duePost, 0)
	for rows.Next() {
		var d duePost
		if err := rows.Scan(&d.id, &d.clientID, &d.caption, &d.hashtags, &d.pageID, &d.pageToken); err != nil {
			return 0, 0, err
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, d := range due {
		if d.pageID == "" || d.pageToken == "" {
			s.markFailed(ctx, d.id, "not_connected")
			failed++
			log.Printf("[PublishSweeper] failed postId=%s clientId=%s reason=not_connected", d.id, d.clientID)
			continue
		}

		message := d.caption
		if strings.TrimSpace(d.hashtags) != "" {
			message = message + "\n\n" + d.hashtags
		}

		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		fbPostID, pubErr := s.publisher.PublishPost(pubCtx, d.pageID, d.pageToken, message)
		cancel()

		if pubErr != nil {
			s.markFailed(ctx, d.id, truncate(pubErr.Error(), 300))
			failed++
			log.Printf("[PublishSweeper] failed postId=%s clientId=%s err=%v", d.id, d.clientID, pubErr)
			continue
		}

		// Status guard keeps the transition monotonic even if another sweep
		// raced us here.
		res, err := s.db.ExecContext(ctx, `
			UPDATE public.posts
			   SET status = 'posted',
			       posted_at = $2,
			       publish_error = NULL
			 WHERE id = $1 AND status = 'scheduled'
		`, d.id, time.Now().UTC())
		if err != nil {
			log.Printf("[PublishSweeper] mark_posted_failed postId=%s err=%v", d.id, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		posted++
		log.Printf("[PublishSweeper] posted postId=%s clientId=%s fbPostId=%s", d.id, d.clientID, fbPostID)
	}

	return posted, failed, nil
}

func (s *Sweeper) markFailed(ctx context.Context, postID, reason string) {
	_, _ = s.db.ExecContext(ctx, `
		UPDATE public.posts
		   SET status = 'failed',
		       publish_error = $2
		 WHERE id = $1 AND status = 'scheduled'
	`, postID, reason)
}

// Start runs the sweep on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log.Printf("[PublishSweeper] worker started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepCount := 0
	run := func() {
		sweepCount++
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		posted, failed, err := s.SweepOnce(sweepCtx, time.Now().UTC())
		if err != nil {
			log.Printf("[PublishSweeper] sweep error err=%v", err)
			return
		}
		if posted > 0 || failed > 0 {
			log.Printf("[PublishSweeper] sweep ok posted=%d failed=%d", posted, failed)
			return
		}
		// Every ~10 sweeps, print a summary so "nothing happening" is diagnosable.
		if sweepCount%10 == 0 {
			due, next := s.sweepStats(sweepCtx)
			nextStr := ""
			if next.Valid {
				nextStr = next.Time.UTC().Format(time.RFC3339)
			}
			log.Printf("[PublishSweeper] sweep ok posted=0 due=%d next=%s", due, nextStr)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[PublishSweeper] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}

func (s *Sweeper) sweepStats(ctx context.Context) (due int, next sql.NullTime) {
	_ = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		  FROM public.posts
		 WHERE status = 'scheduled'
		   AND scheduled_at IS NOT NULL
		   AND scheduled_at <= NOW()
	`).Scan(&due)
	_ = s.db.QueryRowContext(ctx, `
		SELECT MIN(scheduled_at)
		  FROM public.posts
		 WHERE status = 'scheduled'
		   AND scheduled_at > NOW()
	`).Scan(&next)
	return due, next
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
