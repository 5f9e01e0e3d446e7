package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/glowpost/backend/internal/captions"
	"github.com/glowpost/backend/internal/models"
)

// CaptionSource is the generation collaborator. The engine only requires the
// never-fails variant: any upstream failure must already be mapped to the
// fixed fallback pair.
type CaptionSource interface {
	GenerateOrFallback(ctx context.Context, in captions.GenerateInput) captions.GenerateOutput
}

// Engine is the daily scheduling decision pass. Each invocation is stateless:
// every gate reads persisted state, so repeated (at-least-once) triggering and
// overlapping passes are safe without cross-invocation locking.
type Engine struct {
	db          *sql.DB
	ledger      *Ledger
	captionSrc  CaptionSource
	defaultZone string

	// genTimeout bounds one client's generation call so a hung model host
	// can't stall the rest of the pass.
	genTimeout time.Duration
}

func NewEngine(db *sql.DB, ledger *Ledger, src CaptionSource, defaultZone string) *Engine {
	return &Engine{
		db:          db,
		ledger:      ledger,
		captionSrc:  src,
		defaultZone: defaultZone,
		genTimeout:  45 * time.Second,
	}
}

// RunOnce evaluates every client against the time, quota, and dedup gates,
// scheduling at most one post per eligible client. A failure on one client is
// logged and does not abort the rest; the returned error is reserved for the
// store being unreachable.
func (e *Engine) RunOnce(ctx context.Context, nowUTC time.Time) (int, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(city, ''), COALESCE(categories, ARRAY[]::text[]),
		       model_name, timezone, post_hour, post_minute
		  FROM public.clients
	`)
	if err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	clients := make([]models.Client, 0)
	for rows.Next() {
		var c models.Client
		var city string
		if err := rows.Scan(&c.ID, &c.Name, &city, pq.Array(&c.Categories),
			&c.ModelName, &c.Timezone, &c.PostHour, &c.PostMinute); err != nil {
			return 0, fmt.Errorf("scan client: %w", err)
		}
		if city != "" {
			c.City = &city
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list clients: %w", err)
	}

	scheduled := 0
	for i := range clients {
		c := &clients[i]
		did, err := e.scheduleClient(ctx, c, nowUTC)
		if err != nil {
			log.Printf("[AIScheduler] client_failed clientId=%s err=%v", c.ID, err)
			continue
		}
		if did {
			scheduled++
		}
	}
	return scheduled, nil
}

// scheduleClient applies the decision gates in order, short-circuiting on the
// first skip. Returns true when a post was transitioned to scheduled.
func (e *Engine) scheduleClient(ctx context.Context, c *models.Client, nowUTC time.Time) (bool, error) {
	// Gate 1: local posting time must have arrived.
	if !IsDue(c, nowUTC, e.defaultZone) {
		return false, nil
	}

	// Gate 2: weekly quota.
	ok, err := e.ledger.MayPost(ctx, c.ID, nowUTC)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("[AIScheduler] skip clientId=%s reason=quota_reached", c.ID)
		return false, nil
	}

	// Gate 3: at most one scheduling action per local calendar day, no matter
	// how often the pass runs.
	dayStart := LocalDate(c, nowUTC, e.defaultZone)
	dayEnd := dayStart.AddDate(0, 0, 1)
	var exists int
	err = e.db.QueryRowContext(ctx, `
		SELECT 1
		  FROM public.posts
		 WHERE client_id = $1
		   AND status IN ('scheduled', 'posted')
		   AND ((scheduled_at >= $2 AND scheduled_at < $3)
		     OR (posted_at >= $2 AND posted_at < $3))
		 LIMIT 1
	`, c.ID, dayStart, dayEnd).Scan(&exists)
	if err == nil {
		return false, nil // already handled today
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("dedup check: %w", err)
	}

	// Gate 4: reuse the oldest draft, or originate one via the caption source.
	var postID string
	err = e.db.QueryRowContext(ctx, `
		SELECT id
		  FROM public.posts
		 WHERE client_id = $1 AND status = 'draft'
		 ORDER BY created_at ASC
		 LIMIT 1
	`, c.ID).Scan(&postID)
	if err == sql.ErrNoRows {
		postID, err = e.originateDraft(ctx, c)
	}
	if err != nil {
		return false, err
	}

	// Gate 5: commit. The status guard keeps the transition monotonic; if a
	// concurrent pass claimed the draft first, we simply lost the race.
	res, err := e.db.ExecContext(ctx, `
		UPDATE public.posts
		   SET status = 'scheduled',
		       scheduled_at = $2
		 WHERE id = $1 AND status = 'draft'
	`, postID, nowUTC)
	if err != nil {
		return false, fmt.Errorf("commit schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		log.Printf("[AIScheduler] commit_skipped clientId=%s postId=%s reason=claimed_elsewhere", c.ID, postID)
		return false, nil
	}

	// Record usage synchronously with the decision so a quickly-following pass
	// sees the consumed slot.
	if err := e.ledger.RecordPost(ctx, c.ID, nowUTC); err != nil {
		return true, err
	}

	log.Printf("[AIScheduler] scheduled clientId=%s postId=%s at=%s", c.ID, postID, nowUTC.UTC().Format(time.RFC3339))
	return true, nil
}

// originateDraft generates a caption (auto mode, empty brief) and persists it
// as a new draft. The caption source already degrades to the fallback pair, so
// this only fails when the insert does.
func (e *Engine) originateDraft(ctx context.Context, c *models.Client) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	city := ""
	if c.City != nil {
		city = *c.City
	}
	out := e.captionSrc.GenerateOrFallback(genCtx, captions.GenerateInput{
		Categories: c.Categories,
		City:       city,
		Model:      c.ModelName,
	})

	id := fmt.Sprintf("post_%s", randHex(12))
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO public.posts (id, client_id, caption, hashtags, status, created_at)
		VALUES ($1, $2, $3, $4, 'draft', NOW())
	`, id, c.ID, out.Caption, out.Hashtags); err != nil {
		return "", fmt.Errorf("insert draft: %w", err)
	}
	return id, nil
}

// Start runs the decision pass on a fixed interval until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log.Printf("[AIScheduler] worker started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		passCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		n, err := e.RunOnce(passCtx, time.Now().UTC())
		if err != nil {
			log.Printf("[AIScheduler] pass error err=%v", err)
			return
		}
		if n > 0 {
			log.Printf("[AIScheduler] pass ok scheduled=%d", n)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[AIScheduler] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}
