package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/glowpost/backend/internal/captions"
	"github.com/glowpost/backend/internal/config"
)

type fakeGenerator struct {
	out captions.GenerateOutput
	err error

	gotInput captions.GenerateInput
	calls    int
}

func (f *fakeGenerator) Generate(_ context.Context, in captions.GenerateInput) (captions.GenerateOutput, error) {
	f.calls++
	f.gotInput = in
	return f.out, f.err
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, *fakeGenerator, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gen := &fakeGenerator{}
	h := New(db, gen, &config.Config{DefaultTimezone: "America/Los_Angeles"})
	return h, mock, gen, func() { _ = db.Close() }
}

func TestHealth_OK(t *testing.T) {
	h := New(nil, nil, &config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	if out["ok"] != true {
		t.Fatalf("expected ok=true got %#v", out)
	}
}

func TestCreateClient_Success(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO public\.clients`).
		WithArgs(sqlmock.AnyArg(), "Polished Nails", nil, nil).
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "name", "city", "industry", "categories",
				"ai_auto", "model_name", "timezone", "post_hour", "post_minute", "created_at"}).
				AddRow("cl_abc", "Polished Nails", nil, nil, pq.StringArray{},
					true, "llama3", "America/Los_Angeles", 17, 0, now),
		)

	body := `{"name":"Polished Nails"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewBufferString(body))

	h.CreateClient(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected application/json content-type got %q", ct)
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out["id"] != "cl_abc" {
		t.Fatalf("expected id=cl_abc got %#v", out["id"])
	}
	if out["timezone"] != "America/Los_Angeles" {
		t.Fatalf("expected default timezone got %#v", out["timezone"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCreateClient_BadJSON(t *testing.T) {
	h := New(nil, nil, &config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewBufferString("{"))

	h.CreateClient(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestCreateClient_MissingName(t *testing.T) {
	h := New(nil, nil, &config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/clients", bytes.NewBufferString(`{"name":"  "}`))

	h.CreateClient(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT id, name, city, industry, facebook_page_id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/clients/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})

	h.GetClient(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpdatePrefs_Success(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	mock.ExpectExec(`UPDATE public\.clients`).
		WithArgs("cl_abc", sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := `{"clientId":"cl_abc","categories":["gel","nail art"],"postHour":9}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/prefs", bytes.NewBufferString(body))

	h.UpdatePrefs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestUpdatePrefs_InvalidHour(t *testing.T) {
	h := New(nil, nil, &config.Config{})

	for _, body := range []string{
		`{"clientId":"cl_abc","postHour":24}`,
		`{"clientId":"cl_abc","postHour":-1}`,
		`{"clientId":"cl_abc","postMinute":60}`,
	} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/ai/prefs", bytes.NewBufferString(body))

		h.UpdatePrefs(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400 got %d", body, rr.Code)
		}
	}
}

func TestUpdatePrefs_UnknownClient(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	mock.ExpectExec(`UPDATE public\.clients`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	body := `{"clientId":"cl_missing","categories":["gel"]}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/prefs", bytes.NewBufferString(body))

	h.UpdatePrefs(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestGenerateOnce_Success(t *testing.T) {
	h, mock, gen, done := newTestHandler(t)
	defer done()

	gen.out = captions.GenerateOutput{Caption: "Chrome french tips ✨", Hashtags: "#chromenails #frenchtips"}

	mock.ExpectQuery(`SELECT COALESCE\(city, ''\), COALESCE\(categories, ARRAY\[\]::text\[\]\), model_name`).
		WithArgs("cl_abc").
		WillReturnRows(
			sqlmock.NewRows([]string{"city", "categories", "model_name"}).
				AddRow("Austin", pq.StringArray{"gel", "chrome"}, "llama3"),
		)

	body := `{"clientId":"cl_abc","brief":"new chrome sets"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/generate-once", bytes.NewBufferString(body))

	h.GenerateOnce(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if gen.calls != 1 {
		t.Fatalf("expected one generate call, got %d", gen.calls)
	}
	if gen.gotInput.City != "Austin" || gen.gotInput.Brief != "new chrome sets" {
		t.Fatalf("unexpected generate input: %#v", gen.gotInput)
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	result, _ := out["result"].(map[string]any)
	if result["caption"] != "Chrome french tips ✨" {
		t.Fatalf("unexpected result: %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestGenerateOnce_UpstreamError(t *testing.T) {
	h, mock, gen, done := newTestHandler(t)
	defer done()

	gen.err = fmt.Errorf("ollama request failed: connection refused")

	mock.ExpectQuery(`SELECT COALESCE\(city, ''\)`).
		WithArgs("cl_abc").
		WillReturnRows(
			sqlmock.NewRows([]string{"city", "categories", "model_name"}).
				AddRow("", pq.StringArray{}, "llama3"),
		)

	body := `{"clientId":"cl_abc"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ai/generate-once", bytes.NewBufferString(body))

	h.GenerateOnce(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestListPostsForClient_StatusFilter(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, client_id, caption, hashtags, image_url, status`).
		WithArgs("cl_abc", "draft", 200).
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "client_id", "caption", "hashtags", "image_url", "status",
				"created_at", "scheduled_at", "posted_at", "publish_error"}).
				AddRow("post_1", "cl_abc", "Fresh set", "#nails", nil, "draft", now, nil, nil, nil),
		)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/posts/client/cl_abc?status=draft", nil)
	req = mux.SetURLVars(req, map[string]string{"clientId": "cl_abc"})

	h.ListPostsForClient(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if len(out) != 1 || out[0]["id"] != "post_1" {
		t.Fatalf("unexpected posts: %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestListPostsForClient_EmptyIsArray(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	mock.ExpectQuery(`SELECT id, client_id, caption, hashtags, image_url, status`).
		WithArgs("cl_abc", 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "caption", "hashtags", "image_url", "status",
			"created_at", "scheduled_at", "posted_at", "publish_error"}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/posts/client/cl_abc", nil)
	req = mux.SetURLVars(req, map[string]string{"clientId": "cl_abc"})

	h.ListPostsForClient(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Fatalf("expected empty json array, got %q", body)
	}
}

func TestCreatePostForClient_Success(t *testing.T) {
	h, mock, _, done := newTestHandler(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO public\.posts`).
		WithArgs(sqlmock.AnyArg(), "cl_abc", "Fresh set just in", "#nails", nil).
		WillReturnRows(
			sqlmock.NewRows([]string{"id", "client_id", "caption", "hashtags", "image_url", "status",
				"created_at", "scheduled_at", "posted_at", "publish_error"}).
				AddRow("post_1", "cl_abc", "Fresh set just in", "#nails", nil, "draft", now, nil, nil, nil),
		)

	body := `{"caption":"Fresh set just in","hashtags":"#nails"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/client/cl_abc", bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"clientId": "cl_abc"})

	h.CreatePostForClient(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out["status"] != "draft" {
		t.Fatalf("expected draft status got %#v", out["status"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestCreatePostForClient_MissingCaption(t *testing.T) {
	h := New(nil, nil, &config.Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/posts/client/cl_abc", bytes.NewBufferString(`{"caption":""}`))
	req = mux.SetURLVars(req, map[string]string{"clientId": "cl_abc"})

	h.CreatePostForClient(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}
