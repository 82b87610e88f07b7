package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"modabot/internal/bot"
	"modabot/internal/domain/modelcfg"
	"modabot/internal/infra"
	"modabot/internal/modelscope"
	"modabot/internal/store"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubDB accepts task inserts, links and updates; nothing else.
type stubDB struct{}

func (stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(query, "update moda_tasks") {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unsupported exec")
}

func (stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if strings.Contains(query, "insert into moda_tasks") {
		return stubRow{scan: func(dest ...any) error {
			*(dest[0].(*int64)) = 1
			*(dest[1].(*time.Time)) = time.Now()
			return nil
		}}
	}
	if strings.Contains(query, "insert into moda_user_tasks") {
		return stubRow{scan: func(dest ...any) error {
			*(dest[0].(*int64)) = 1
			return nil
		}}
	}
	if strings.Contains(query, "select status, completed_at") {
		return stubRow{scan: func(dest ...any) error {
			*(dest[0].(*string)) = store.StatusPending
			*(dest[1].(**time.Time)) = nil
			return nil
		}}
	}
	return stubRow{}
}

func (stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unsupported query")
}

func newTestApp(t *testing.T, upstream *httptest.Server) *App {
	t.Helper()
	keyring, err := modelscope.NewKeyring([]string{"k"})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	client, err := modelscope.NewClient(modelscope.Options{
		BaseURL:        upstream.URL,
		Keyring:        keyring,
		HTTPClient:     upstream.Client(),
		FirstPollDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	registry, err := modelcfg.LoadRegistry("", "")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	orchestrator, err := bot.New(bot.Options{
		Client:   client,
		Store:    store.New(stubDB{}),
		Registry: registry,
		Config: &infra.Config{
			GenerateMaxRetries:    3,
			GenerateRetryInterval: time.Millisecond,
			EditMaxRetries:        3,
			EditRetryInterval:     time.Millisecond,
			DefaultSize:           "1024x1024",
			TasksPerPage:          5,
			FavsPerPage:           10,
		},
	})
	if err != nil {
		t.Fatalf("bot.New: %v", err)
	}
	return NewApp(orchestrator, nil)
}

func TestHealth(t *testing.T) {
	app := &App{}
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestModaGenerateRequiresPrompt(t *testing.T) {
	app := &App{}
	rr := httptest.NewRecorder()
	app.ModaGenerate(rr, httptest.NewRequest(http.MethodGet, "/moda/generate", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestModaEditRequiresImage(t *testing.T) {
	app := &App{}
	rr := httptest.NewRecorder()
	app.ModaEdit(rr, httptest.NewRequest(http.MethodGet, "/moda/edit?prompt=x", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestModaTaskRejectsBadID(t *testing.T) {
	app := &App{}
	rr := httptest.NewRecorder()
	app.ModaTask(rr, httptest.NewRequest(http.MethodGet, "/moda/tasks/abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestModaGenerateRedirectsToImage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"task_id":"remote-1","request_id":"req-1"}`))
			return
		}
		w.Write([]byte(`{"task_status":"SUCCEED","output_images":["https://img/out.png"],"input":{"seed":9}}`))
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream)
	rr := httptest.NewRecorder()
	app.ModaGenerate(rr, httptest.NewRequest(http.MethodGet, "/moda/generate?prompt=a+fox", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302; body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "https://img/out.png" {
		t.Fatalf("Location = %q", got)
	}
}

func TestModaGenerateJSONFormat(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"task_id":"remote-1","request_id":"req-1"}`))
			return
		}
		w.Write([]byte(`{"task_status":"SUCCEED","output_images":["https://img/out.png"],"input":{"seed":9}}`))
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream)
	rr := httptest.NewRecorder()
	app.ModaGenerate(rr, httptest.NewRequest(http.MethodGet, "/moda/generate?prompt=a+fox&format=json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rr.Code, rr.Body.String())
	}
	var body outcomeResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ImageURL != "https://img/out.png" || body.ResultSeed == nil || *body.ResultSeed != 9 {
		t.Fatalf("body = %+v", body)
	}
}

func TestModaGenerateMapsTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"task_id":"remote-1","request_id":"req-1"}`))
			return
		}
		w.Write([]byte(`{"task_status":"RUNNING"}`))
	}))
	defer upstream.Close()

	app := newTestApp(t, upstream)
	rr := httptest.NewRecorder()
	app.ModaGenerate(rr, httptest.NewRequest(http.MethodGet, "/moda/generate?prompt=a+fox", nil))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rr.Code)
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"fox", []string{"fox"}},
		{"night, fox", []string{"night", "fox"}},
		{" ,night,, fox ,", []string{"night", "fox"}},
	}
	for _, tc := range tests {
		got := splitTags(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("splitTags(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("splitTags(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestCurrentUserIDDefault(t *testing.T) {
	app := &App{}
	if got := app.currentUserID(httptest.NewRequest(http.MethodGet, "/moda/tasks", nil)); got != defaultUser {
		t.Fatalf("currentUserID = %q, want %q", got, defaultUser)
	}
	if got := app.currentUserID(httptest.NewRequest(http.MethodGet, "/moda/tasks?user=u9", nil)); got != "u9" {
		t.Fatalf("currentUserID = %q, want u9", got)
	}
}
