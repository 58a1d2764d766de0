package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/reelrec/internal/api"
	"github.com/kalambet/reelrec/internal/catalog"
	"github.com/kalambet/reelrec/internal/config"
	"github.com/kalambet/reelrec/internal/recommend"
	"github.com/kalambet/reelrec/internal/session"
	"github.com/kalambet/reelrec/internal/users"
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
		w.Write([]byte(`{"error":{"message":"user not found","type":"not_found"}}`))
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

// captureOutput redirects the CLI writers for the duration of a test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr, prevColor := stdout, stderr, noColor
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = prevOut, prevErr, prevColor })
	return out, errOut
}

func testEngine(t *testing.T) *recommend.Engine {
	t.Helper()
	cat, err := catalog.New([]string{"A", "B", "C", "D"})
	if err != nil {
		t.Fatal(err)
	}
	idx, err := catalog.NewIndex([][]float32{
		{1, 0.2, 0.9, 0.5},
		{0.2, 1, 0.1, 0.3},
		{0.9, 0.1, 1, 0.4},
		{0.5, 0.3, 0.4, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return recommend.NewEngineWithRand(cat, idx, func(int) int { return 1 })
}

func TestAddUser_Request(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/users": `{"status":"registered","email":"u@x.com"}`,
	})

	if err := addUser(ctx, ts.client(), "u@x.com", "pw1", "Udit"); err != nil {
		t.Fatalf("addUser: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/admin/users" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["email"] != "u@x.com" || body["password"] != "pw1" || body["name"] != "Udit" {
		t.Errorf("body = %v", body)
	}
}

func TestShowUser_Decodes(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /admin/users/u@x.com": `{"email":"u@x.com","name":"Udit","recent":["B","A"],"history_len":2,"created_at":"2026-01-01T00:00:00Z"}`,
	})

	view, err := showUser(ctx, ts.client(), "u@x.com")
	if err != nil {
		t.Fatalf("showUser: %v", err)
	}
	if view.Name != "Udit" || view.History != 2 || strings.Join(view.Recent, ",") != "B,A" {
		t.Errorf("view = %+v", view)
	}
}

func TestShowUser_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := showUser(ctx, ts.client(), "ghost@x.com")
	if err == nil {
		t.Fatal("expected error for unknown user")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "user not found") {
		t.Errorf("error = %v", err)
	}
}

func TestSetUserPassword_Path(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/users/u+tag@x.com/password": `{"status":"updated"}`,
	})

	if err := setUserPassword(ctx, ts.client(), "u+tag@x.com", "pw2"); err != nil {
		t.Fatalf("setUserPassword: %v", err)
	}
	if got := ts.requests[0].Body; !strings.Contains(got, `"password":"pw2"`) {
		t.Errorf("body = %s", got)
	}
}

func TestAdminCommands_AgainstRealHandler(t *testing.T) {
	repo, err := users.OpenFileRepository(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatal(err)
	}
	mgr := users.NewManager(repo, users.Plaintext{})
	eng := testEngine(t)
	h := api.NewAppHandler(api.AppDeps{
		Controller: session.NewController(mgr, eng, session.Options{}),
		Sessions:   session.NewRegistry(time.Hour),
		Users:      mgr,
		Catalog:    eng.Catalog(),
		AdminToken: "secret",
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := &apiClient{baseURL: srv.URL, token: "secret", httpClient: srv.Client()}

	if err := addUser(ctx, c, "u@x.com", "pw1", "Udit"); err != nil {
		t.Fatalf("addUser: %v", err)
	}
	if err := addUser(ctx, c, "u@x.com", "pw1", "Udit"); err == nil || !strings.Contains(err.Error(), "409") {
		t.Errorf("duplicate addUser err = %v, want 409", err)
	}
	if err := setUserPassword(ctx, c, "u@x.com", "pw2"); err != nil {
		t.Fatalf("setUserPassword: %v", err)
	}
	if _, err := mgr.Authenticate(ctx, "u@x.com", "pw2"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	view, err := showUser(ctx, c, "u@x.com")
	if err != nil || view.Name != "Udit" {
		t.Errorf("showUser = %+v, %v", view, err)
	}

	bad := &apiClient{baseURL: srv.URL, token: "wrong", httpClient: srv.Client()}
	if _, err := showUser(ctx, bad, "u@x.com"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("wrong token err = %v, want 401", err)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := &apiClient{baseURL: url, token: "t", httpClient: &http.Client{Timeout: time.Second}}
	_, err := c.get(ctx, "/admin/stats")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("err = %v, want not reachable", err)
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusBadGateway)
	rr.WriteString("upstream down")

	var v any
	err := decodeJSON(rr.Result(), &v)
	if err == nil || !strings.Contains(err.Error(), "502: upstream down") {
		t.Errorf("err = %v", err)
	}
}

func TestRunRecommend_PrintsRanked(t *testing.T) {
	out, _ := captureOutput(t)

	if err := runRecommend(testEngine(t), "A", 2); err != nil {
		t.Fatalf("runRecommend: %v", err)
	}
	if got := out.String(); got != "1. C\n2. D\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunRecommend_Partial(t *testing.T) {
	out, errOut := captureOutput(t)

	if err := runRecommend(testEngine(t), "A", 10); err != nil {
		t.Fatalf("runRecommend: %v", err)
	}
	if got := out.String(); got != "1. C\n2. D\n3. B\n" {
		t.Errorf("output = %q", got)
	}
	if !strings.Contains(errOut.String(), "only 3") {
		t.Errorf("missing partial warning: %q", errOut.String())
	}
}

func TestRunRecommend_UnknownTitle(t *testing.T) {
	captureOutput(t)

	err := runRecommend(testEngine(t), "Nope", 5)
	if err == nil || !strings.Contains(err.Error(), "not in the catalog") {
		t.Errorf("err = %v", err)
	}
}

func TestImportSimilarity(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "nested", "similarity.bin")

	n, err := importSimilarity(strings.NewReader(`[[1,0.5],[0.5,1]]`), dst)
	if err != nil {
		t.Fatalf("importSimilarity: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	idx, err := catalog.LoadSimilarity(dst, 2)
	if err != nil {
		t.Fatalf("LoadSimilarity: %v", err)
	}
	if got := idx.Score(0, 1); got != 0.5 {
		t.Errorf("Score(0,1) = %v, want 0.5", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestImportSimilarity_Rejects(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "similarity.bin")

	for name, input := range map[string]string{
		"not json":   `{`,
		"not square": `[[1,0.5]]`,
		"ragged":     `[[1,0.5],[0.5]]`,
	} {
		if _, err := importSimilarity(strings.NewReader(input), dst); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("destination written for rejected input")
	}
}

func TestReadLine(t *testing.T) {
	got, err := readLine(strings.NewReader("s3cret\r\nignored\n"))
	if err != nil || got != "s3cret" {
		t.Errorf("readLine = %q, %v", got, err)
	}
	got, err = readLine(strings.NewReader("no-newline"))
	if err != nil || got != "no-newline" {
		t.Errorf("readLine without newline = %q, %v", got, err)
	}
	if _, err := readLine(strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestNoColorFlag(t *testing.T) {
	prev := noColor
	t.Cleanup(func() { noColor = prev })

	noColor = false
	if got := colorize(colorGreen, "hello"); got != colorGreen+"hello"+colorReset {
		t.Errorf("colorize with color = %q", got)
	}

	noColor = true
	if got := colorize(colorGreen, "hello"); got != "hello" {
		t.Errorf("colorize without color = %q, want %q", got, "hello")
	}
}

func TestPrintRanked_PadsNumbers(t *testing.T) {
	out, _ := captureOutput(t)

	titles := make([]string, 10)
	for i := range titles {
		titles[i] = string(rune('A' + i))
	}
	printRanked(titles)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if lines[0] != " 1. A" || lines[9] != "10. J" {
		t.Errorf("first/last = %q / %q", lines[0], lines[9])
	}
}

func TestConfigShowAll(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("ShowAll returned no keys")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" {
			found = true
			if k.Value != "4000" {
				t.Errorf("server.port = %q, want %q", k.Value, "4000")
			}
		}
	}
	if !found {
		t.Error("server.port not found in ShowAll output")
	}
}
