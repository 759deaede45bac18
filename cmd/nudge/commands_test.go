package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/halver/nudge/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSitesList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sites/recent": `[{"url":"https://go.dev/doc","title":"Documentation","domain":"go.dev","category":"coding","duration_ms":42000,"visit_count":3,"last_visited_at":"2026-08-25T10:00:00Z"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/sites/recent?limit=20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sites []struct {
		URL        string `json:"url"`
		Category   string `json:"category"`
		VisitCount int    `json:"visit_count"`
	}
	if err := decodeJSON(resp, &sites); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(sites))
	}
	if sites[0].Category != "coding" {
		t.Errorf("category = %q, want coding", sites[0].Category)
	}
	if sites[0].VisitCount != 3 {
		t.Errorf("visit_count = %d, want 3", sites[0].VisitCount)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Path != "/sites/recent?limit=20" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestHistoryList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /suggestions/history": `[{"id":"b1b2b3b4-0000-0000-0000-000000000000","created_at":"2026-08-25T10:00:00Z","trigger_url":"https://example.com","tasks":[{"title":"Read the follow-up article","category":"research"}]}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/suggestions/history?limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var batches []batchView
	if err := decodeJSON(resp, &batches); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(batches[0].Tasks))
	}
	if batches[0].Tasks[0].Title != "Read the follow-up article" {
		t.Errorf("task title = %q", batches[0].Tasks[0].Title)
	}
}

func TestHistoryShow_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/suggestions/history/missing-id")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var batch any
	err = decodeJSON(resp, &batch)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to contain '404'", err.Error())
	}
}

func TestCooldownRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /settings/cooldown": `{"status":"updated","seconds":60}`,
	})

	client := ts.client()
	resp, err := client.put(ctx, "/settings/cooldown", map[string]any{"seconds": 60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "updated" {
		t.Errorf("status = %v, want updated", result["status"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	var sentBody map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sentBody); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sentBody["seconds"] != float64(60) {
		t.Errorf("body.seconds = %v, want 60", sentBody["seconds"])
	}
}

func TestCooldownCommand_RejectsBadInput(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"cooldown", "abc"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for non-numeric seconds")
	}
	if !strings.Contains(err.Error(), "positive") {
		t.Errorf("error = %q, want it to mention 'positive'", err.Error())
	}

	rootCmd.SetArgs([]string{"cooldown", "-5"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for negative seconds")
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped daemon")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/status")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Log.Level = "debug"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}
