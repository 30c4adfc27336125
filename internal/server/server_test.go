package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"

	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T, apiKey string) *echo.Echo {
	t.Helper()
	cfg := bootstrap.LoadConfig()
	cfg.Store.Adapter = bootstrap.StoreAdapterMemory
	cfg.AI.Adapter = "openai"
	cfg.AI.EmbedAdapter = "hash"
	cfg.AI.EmbedDim = 64
	cfg.RedisURL = ""
	cfg.S3.Bucket = ""
	cfg.MaskPII = false
	cfg.APIKey = apiKey

	app, err := bootstrap.New(context.Background(), cfg, bootstrap.Options{})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return New(app)
}

func do(t *testing.T, e *echo.Echo, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, e *echo.Echo) {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/api/tickets", map[string]any{
		"records": []common.TicketRecord{
			{TicketID: "T1", CustomerEmail: "ann@x.com", ProductName: common.Ptr("Router"), Description: common.Ptr("Router keeps rebooting"), Priority: common.Ptr("High"), Status: common.Ptr("Open")},
			{TicketID: "T2", CustomerEmail: "bob@x.com", ProductName: common.Ptr("Router"), Description: common.Ptr("Wifi drops every hour"), Priority: common.Ptr("Low"), Status: common.Ptr("Closed")},
			{TicketID: "T3", CustomerEmail: "cat@x.com", ProductName: common.Ptr("Kindle"), Description: common.Ptr("Screen flickers"), Priority: common.Ptr("Critical"), Status: common.Ptr("Open")},
			{TicketID: "T4", CustomerEmail: "no-email"},
		},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Total  int `json:"total"`
		Failed []struct {
			TicketID string `json:"ticket_id"`
		} `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 4 || len(resp.Failed) != 1 || resp.Failed[0].TicketID != "T4" {
		t.Fatalf("unexpected ingest report %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, "")
	rec := do(t, e, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected OK, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestIngestAndGetTicket(t *testing.T) {
	e := newTestServer(t, "")
	seed(t, e)

	rec := do(t, e, http.MethodGet, "/api/tickets/T1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view common.TicketView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.ProductName != "Router" || view.CustomerEmail != "ann@x.com" || common.Deref(view.Priority) != "high" {
		t.Fatalf("unexpected ticket %+v", view)
	}

	rec = do(t, e, http.MethodGet, "/api/tickets/NOPE", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestIngest_RejectsEmptyBatch(t *testing.T) {
	e := newTestServer(t, "")
	rec := do(t, e, http.MethodPost, "/api/tickets", map[string]any{"records": []any{}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpload_Synchronous(t *testing.T) {
	e := newTestServer(t, "")

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "tickets.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("Ticket ID,Customer Email,Product Purchased\n9,z@x.com,Camera\n"))
	_ = w.WriteField("mask_pii", "true")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, "/api/tickets/9", nil, nil)
	var view common.TicketView
	_ = json.Unmarshal(rec.Body.Bytes(), &view)
	if view.CustomerEmail != "z***@x.com" || view.ProductName != "Camera" {
		t.Fatalf("unexpected ticket %+v", view)
	}
}

func TestRetrieve(t *testing.T) {
	e := newTestServer(t, "")
	seed(t, e)

	rec := do(t, e, http.MethodPost, "/api/retrieve", map[string]any{"query": "router rebooting", "k": 2}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Hits []common.ScoredTicket `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits) != 2 || resp.Hits[0].TicketID != "T1" {
		t.Fatalf("expected T1 first of 2 hits, got %+v", resp.Hits)
	}

	rec = do(t, e, http.MethodPost, "/api/retrieve", map[string]any{"query": "   "}, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"hits":[]`)) {
		t.Fatalf("expected empty hits, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnalytics(t *testing.T) {
	e := newTestServer(t, "")
	seed(t, e)

	rec := do(t, e, http.MethodGet, "/api/analytics/products?limit=1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res common.AggregateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Buckets) != 1 || res.Buckets[0].Key != "Router" || res.Buckets[0].Count != 2 {
		t.Fatalf("expected Router with 2 tickets, got %+v", res.Buckets)
	}

	rec = do(t, e, http.MethodGet, "/api/analytics/critical", nil, nil)
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Count != 2 {
		t.Fatalf("expected 2 critical tickets, got %d", res.Count)
	}

	rec = do(t, e, http.MethodGet, "/api/analytics/weather", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown view, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodGet, "/api/dashboard", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"total_tickets":3`)) {
		t.Fatalf("unexpected dashboard %d %s", rec.Code, rec.Body.String())
	}
}

func TestQuery_RequiresMessages(t *testing.T) {
	e := newTestServer(t, "")
	rec := do(t, e, http.MethodPost, "/api/query", map[string]any{"messages": []any{}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	e := newTestServer(t, "secret")

	if rec := do(t, e, http.MethodGet, "/api/stats", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/stats", nil, map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/stats", nil, map[string]string{"X-API-Key": "secret"}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected health to stay public, got %d", rec.Code)
	}
}
