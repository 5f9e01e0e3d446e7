package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Facebook OAuth glue: exchange the login code for a user token, list the
// user's pages, and let the client pick the page the sweeper publishes to.
// The scheduler core only ever reads the stored page id + token.

const fbScope = "pages_show_list,pages_manage_posts,pages_read_engagement,email"

type fbPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

func (h *Handler) FacebookLoginURL(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}
	if h.cfg.FBAppID == "" {
		writeError(w, http.StatusServiceUnavailable, "facebook app not configured")
		return
	}

	loginURL := fmt.Sprintf(
		"https://www.facebook.com/v24.0/dialog/oauth?client_id=%s&redirect_uri=%s&state=%s&scope=%s",
		url.QueryEscape(h.cfg.FBAppID),
		url.QueryEscape(h.cfg.FBRedirectURI),
		url.QueryEscape(clientID),
		url.QueryEscape(fbScope),
	)
	writeJSON(w, http.StatusOK, map[string]string{"url": loginURL, "clientId": clientID})
}

// FacebookCallback handles the redirect after login: ?code=...&state=clientId.
func (h *Handler) FacebookCallback(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	clientID := strings.TrimSpace(r.URL.Query().Get("state"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing 'code' parameter from Facebook")
		return
	}
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "missing 'state' parameter")
		return
	}

	userToken, err := h.exchangeCode(r.Context(), code)
	if err != nil {
		log.Printf("[FBOAuth] token exchange failed clientId=%s err=%v", clientID, err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	pages, err := h.listPages(r.Context(), userToken)
	if err != nil {
		log.Printf("[FBOAuth] page list failed clientId=%s err=%v", clientID, err)
		writeError(w, http.StatusBadGateway, "page listing failed")
		return
	}

	raw, _ := json.Marshal(pages)
	res, err := h.db.Exec(`
		UPDATE public.clients
		   SET temp_facebook_pages = $2::jsonb
		 WHERE id = $1
	`, clientID, string(raw))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	// Tokens stay server-side; the UI only needs ids and names.
	public := make([]map[string]string, 0, len(pages))
	for _, p := range pages {
		public = append(public, map[string]string{"id": p.ID, "name": p.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clientId": clientID, "pages": public})
}

func (h *Handler) ListFacebookPages(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(pathVar(r, "clientId"))
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var raw []byte
	err := h.db.QueryRow(`
		SELECT temp_facebook_pages FROM public.clients WHERE id = $1
	`, clientID).Scan(&raw)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pages := []fbPage{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &pages); err != nil {
			writeError(w, http.StatusInternalServerError, "stored page list is corrupt")
			return
		}
	}
	public := make([]map[string]string, 0, len(pages))
	for _, p := range pages {
		public = append(public, map[string]string{"id": p.ID, "name": p.Name})
	}
	writeJSON(w, http.StatusOK, public)
}

type selectPageRequest struct {
	ClientID string `json:"clientId"`
	PageID   string `json:"pageId"`
}

// SelectFacebookPage promotes one of the temp pages to the client's publish
// target, storing its id and token for the sweeper.
func (h *Handler) SelectFacebookPage(w http.ResponseWriter, r *http.Request) {
	var req selectPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ClientID == "" || req.PageID == "" {
		writeError(w, http.StatusBadRequest, "clientId and pageId are required")
		return
	}

	var raw []byte
	err := h.db.QueryRow(`
		SELECT temp_facebook_pages FROM public.clients WHERE id = $1
	`, req.ClientID).Scan(&raw)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var pages []fbPage
	if len(raw) > 0 && string(raw) != "null" {
		_ = json.Unmarshal(raw, &pages)
	}
	var selected *fbPage
	for i := range pages {
		if pages[i].ID == req.PageID {
			selected = &pages[i]
			break
		}
	}
	if selected == nil {
		writeError(w, http.StatusNotFound, "page not in the connected account")
		return
	}

	if _, err := h.db.Exec(`
		UPDATE public.clients
		   SET facebook_page_id = $2,
		       facebook_page_token = $3,
		       temp_facebook_pages = NULL
		 WHERE id = $1
	`, req.ClientID, selected.ID, selected.AccessToken); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pageId": selected.ID})
}

func (h *Handler) exchangeCode(ctx context.Context, code string) (string, error) {
	q := url.Values{}
	q.Set("client_id", h.cfg.FBAppID)
	q.Set("client_secret", h.cfg.FBAppSecret)
	q.Set("redirect_uri", h.cfg.FBRedirectURI)
	q.Set("code", code)

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := h.fbGet(ctx, "/oauth/access_token?"+q.Encode(), &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("no access_token in exchange response")
	}
	return out.AccessToken, nil
}

func (h *Handler) listPages(ctx context.Context, userToken string) ([]fbPage, error) {
	q := url.Values{}
	q.Set("access_token", userToken)

	var out struct {
		Data []fbPage `json:"data"`
	}
	if err := h.fbGet(ctx, "/me/accounts?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (h *Handler) fbGet(ctx context.Context, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(h.cfg.FBAPIURL, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("facebook returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, dst)
}
