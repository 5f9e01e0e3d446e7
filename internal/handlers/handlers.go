package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/glowpost/backend/internal/captions"
	"github.com/glowpost/backend/internal/config"
	"github.com/glowpost/backend/internal/models"
)

// captionGenerator is the generation collaborator used by the one-shot
// endpoint, which surfaces errors to the caller (unlike the scheduler, which
// always falls back).
type captionGenerator interface {
	Generate(ctx context.Context, in captions.GenerateInput) (captions.GenerateOutput, error)
}

type Handler struct {
	db       *sql.DB
	captions captionGenerator
	cfg      *config.Config
}

func New(db *sql.DB, gen captionGenerator, cfg *config.Config) *Handler {
	return &Handler{db: db, captions: gen, cfg: cfg}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type createClientRequest struct {
	Name     string  `json:"name"`
	City     *string `json:"city,omitempty"`
	Industry *string `json:"industry,omitempty"`
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id := fmt.Sprintf("cl_%s", randHex(12))
	var out models.Client
	var city, industry sql.NullString
	err := h.db.QueryRow(`
		INSERT INTO public.clients (id, name, city, industry, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, name, city, industry, COALESCE(categories, ARRAY[]::text[]),
		          ai_auto, model_name, timezone, post_hour, post_minute, created_at
	`, id, strings.TrimSpace(req.Name), req.City, req.Industry).Scan(
		&out.ID, &out.Name, &city, &industry, pq.Array(&out.Categories),
		&out.AIAuto, &out.ModelName, &out.Timezone, &out.PostHour, &out.PostMinute, &out.CreatedAt,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if city.Valid {
		out.City = &city.String
	}
	if industry.Valid {
		out.Industry = &industry.String
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(pathVar(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var out models.Client
	var city, industry, pageID sql.NullString
	err := h.db.QueryRow(`
		SELECT id, name, city, industry, facebook_page_id,
		       COALESCE(categories, ARRAY[]::text[]), ai_auto, model_name,
		       timezone, post_hour, post_minute, created_at
		  FROM public.clients
		 WHERE id = $1
	`, id).Scan(
		&out.ID, &out.Name, &city, &industry, &pageID,
		pq.Array(&out.Categories), &out.AIAuto, &out.ModelName,
		&out.Timezone, &out.PostHour, &out.PostMinute, &out.CreatedAt,
	)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if city.Valid {
		out.City = &city.String
	}
	if industry.Valid {
		out.Industry = &industry.String
	}
	if pageID.Valid {
		out.FacebookPageID = &pageID.String
	}

	writeJSON(w, http.StatusOK, out)
}

type prefsRequest struct {
	ClientID   string   `json:"clientId"`
	Categories []string `json:"categories"`
	AIAuto     *bool    `json:"aiAuto,omitempty"`
	Model      *string  `json:"model,omitempty"`
	Timezone   *string  `json:"timezone,omitempty"`
	PostHour   *int     `json:"postHour,omitempty"`
	PostMinute *int     `json:"postMinute,omitempty"`
}

// UpdatePrefs stores a client's AI/scheduling preferences. Only provided
// fields are changed; the scheduler picks them up on its next pass.
func (h *Handler) UpdatePrefs(w http.ResponseWriter, r *http.Request) {
	var req prefsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if req.PostHour != nil && (*req.PostHour < 0 || *req.PostHour > 23) {
		writeError(w, http.StatusBadRequest, "postHour must be 0-23")
		return
	}
	if req.PostMinute != nil && (*req.PostMinute < 0 || *req.PostMinute > 59) {
		writeError(w, http.StatusBadRequest, "postMinute must be 0-59")
		return
	}

	aiAuto := true
	if req.AIAuto != nil {
		aiAuto = *req.AIAuto
	}

	res, err := h.db.Exec(`
		UPDATE public.clients
		   SET categories = $2,
		       ai_auto = $3,
		       model_name = COALESCE($4, model_name),
		       timezone = COALESCE($5, timezone),
		       post_hour = COALESCE($6, post_hour),
		       post_minute = COALESCE($7, post_minute)
		 WHERE id = $1
	`, req.ClientID, pq.Array(req.Categories), aiAuto, req.Model, req.Timezone, req.PostHour, req.PostMinute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type generateOnceRequest struct {
	ClientID string  `json:"clientId"`
	Brief    *string `json:"brief,omitempty"`
}

// GenerateOnce runs a single on-demand generation for a client and returns
// the result without persisting anything.
func (h *Handler) GenerateOnce(w http.ResponseWriter, r *http.Request) {
	var req generateOnceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var city sql.NullString
	var categories []string
	var modelName string
	err := h.db.QueryRow(`
		SELECT COALESCE(city, ''), COALESCE(categories, ARRAY[]::text[]), model_name
		  FROM public.clients
		 WHERE id = $1
	`, req.ClientID).Scan(&city, pq.Array(&categories), &modelName)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	brief := ""
	if req.Brief != nil {
		brief = *req.Brief
	}
	out, err := h.captions.Generate(r.Context(), captions.GenerateInput{
		Brief:      brief,
		Categories: categories,
		City:       city.String,
		Model:      modelName,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": out})
}

func (h *Handler) ListPostsForClient(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(pathVar(r, "clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 200

	posts := []models.Post{}
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = h.db.Query(`
			SELECT id, client_id, caption, hashtags, image_url, status,
			       created_at, scheduled_at, posted_at, publish_error
			  FROM public.posts
			 WHERE client_id = $1 AND status = $2
			 ORDER BY created_at DESC
			 LIMIT $3
		`, clientID, status, limit)
	} else {
		rows, err = h.db.Query(`
			SELECT id, client_id, caption, hashtags, image_url, status,
			       created_at, scheduled_at, posted_at, publish_error
			  FROM public.posts
			 WHERE client_id = $1
			 ORDER BY created_at DESC
			 LIMIT $2
		`, clientID, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Caption, &p.Hashtags, &p.ImageURL,
			&p.Status, &p.CreatedAt, &p.ScheduledAt, &p.PostedAt, &p.PublishError); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, posts)
}

type createPostRequest struct {
	Caption  string  `json:"caption"`
	Hashtags string  `json:"hashtags"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

// CreatePostForClient creates a manual draft. Drafts cost nothing against the
// weekly quota until the scheduler commits them; the quota middleware guards
// this route so clients can't stockpile past their plan.
func (h *Handler) CreatePostForClient(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(pathVar(r, "clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var req createPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Caption) == "" {
		writeError(w, http.StatusBadRequest, "caption is required")
		return
	}

	id := fmt.Sprintf("post_%s", randHex(12))
	var out models.Post
	err := h.db.QueryRow(`
		INSERT INTO public.posts (id, client_id, caption, hashtags, image_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', NOW())
		RETURNING id, client_id, caption, hashtags, image_url, status,
		          created_at, scheduled_at, posted_at, publish_error
	`, id, clientID, req.Caption, req.Hashtags, req.ImageURL).Scan(
		&out.ID, &out.ClientID, &out.Caption, &out.Hashtags, &out.ImageURL,
		&out.Status, &out.CreatedAt, &out.ScheduledAt, &out.PostedAt, &out.PublishError,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, out)
}
