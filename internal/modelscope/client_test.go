package modelscope

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, keys ...string) *Client {
	t.Helper()
	keyring, err := NewKeyring(keys)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	client, err := NewClient(Options{
		BaseURL:        server.URL,
		Keyring:        keyring,
		HTTPClient:     server.Client(),
		FirstPollDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestCreateTaskRotatesPastBadKey(t *testing.T) {
	var mu sync.Mutex
	var authHeaders []string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-ModelScope-Async-Mode") != "true" {
			t.Errorf("missing async mode header")
		}
		auth := r.Header.Get("Authorization")
		mu.Lock()
		authHeaders = append(authHeaders, auth)
		mu.Unlock()
		if auth == "Bearer bad-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Unauthorized"}`))
			return
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"task_id":"abc","request_id":"req-1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "bad-key", "good-key")
	result, err := client.CreateTask(context.Background(), CreateTaskInput{
		Prompt:       "a fox",
		Model:        "test-model",
		TriggerWords: "liuying",
		Size:         "1024x1024",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if result.TaskID != "abc" {
		t.Fatalf("TaskID = %q, want %q", result.TaskID, "abc")
	}
	if result.APIKey != "good-key" {
		t.Fatalf("APIKey = %q, want the key that succeeded", result.APIKey)
	}
	if result.FinalPrompt != "liuying, a fox" {
		t.Fatalf("FinalPrompt = %q", result.FinalPrompt)
	}
	if len(authHeaders) != 2 {
		t.Fatalf("expected 2 submission attempts, got %d", len(authHeaders))
	}
	if _, present := gotBody["image_url"]; present {
		t.Fatalf("image_url must be omitted for generation jobs, body=%v", gotBody)
	}
	if gotBody["size"] != "1024x1024" {
		t.Fatalf("size = %v", gotBody["size"])
	}
}

func TestCreateTaskAllKeysRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k1", "k2", "k3")
	_, err := client.CreateTask(context.Background(), CreateTaskInput{Prompt: "x", Model: "m"})
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestCreateTaskNonAuthErrorPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k1")
	_, err := client.CreateTask(context.Background(), CreateTaskInput{Prompt: "x", Model: "m"})
	if err == nil || errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want plain upstream error", err)
	}
}

func TestCreateTaskSendsImageURLForEdits(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"task_id":"t1","request_id":"r1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k1")
	_, err := client.CreateTask(context.Background(), CreateTaskInput{
		ImageURL: "https://example.com/in.png",
		Prompt:   "make it night",
		Model:    "edit-model",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if gotBody["image_url"] != "https://example.com/in.png" {
		t.Fatalf("image_url = %v", gotBody["image_url"])
	}
}

func TestCreateTaskMergesNegativePrompts(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"task_id":"t1","request_id":"r1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k1")
	result, err := client.CreateTask(context.Background(), CreateTaskInput{
		Prompt:               "a fox",
		Model:                "m",
		GlobalNegativeOn:     true,
		GlobalNegativePrompt: "lowres, blurry",
		ModelNegativePrompt:  "blurry, bad hands",
		NegativePrompt:       "text",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	want := "lowres, blurry, bad hands, text"
	if result.FinalNegativePrompt != want {
		t.Fatalf("FinalNegativePrompt = %q, want %q", result.FinalNegativePrompt, want)
	}
	if gotBody["negative_prompt"] != want {
		t.Fatalf("wire negative_prompt = %v, want %q", gotBody["negative_prompt"], want)
	}
}

func TestWaitTaskSucceedsOnThirdPoll(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tasks/task-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-ModelScope-Task-Type") != "image_generation" {
			t.Errorf("missing task type header")
		}
		if r.Header.Get("Authorization") != "Bearer sticky-key" {
			t.Errorf("status query must reuse the submission key, got %q", r.Header.Get("Authorization"))
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		if n < 3 {
			w.Write([]byte(`{"task_status":"RUNNING"}`))
			return
		}
		w.Write([]byte(`{"task_status":"SUCCEED","output_images":["https://img/out.png"],"input":{"seed":42}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "sticky-key")
	result, err := client.WaitTask(context.Background(), "task-1", "sticky-key", 10, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if polls != 3 {
		t.Fatalf("polls = %d, want 3", polls)
	}
	if result.ImageURL != "https://img/out.png" {
		t.Fatalf("ImageURL = %q", result.ImageURL)
	}
	if result.Seed == nil || *result.Seed != 42 {
		t.Fatalf("Seed = %v, want 42", result.Seed)
	}
}

func TestWaitTaskTopLevelSeedFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_status":"SUCCEED","output_images":["https://img/out.png"],"seed":7}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k")
	result, err := client.WaitTask(context.Background(), "t", "k", 1, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if result.Seed == nil || *result.Seed != 7 {
		t.Fatalf("Seed = %v, want 7", result.Seed)
	}
}

func TestWaitTaskTimesOutAfterBudget(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		mu.Unlock()
		w.Write([]byte(`{"task_status":"RUNNING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k")
	_, err := client.WaitTask(context.Background(), "t", "k", 3, time.Millisecond)
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("err = %v, want ErrTaskTimeout", err)
	}
	if polls != 3 {
		t.Fatalf("polls = %d, want exactly the budget", polls)
	}
}

func TestWaitTaskRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_status":"FAILED","errors":{"code":429,"message":"Too Many Requests"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k")
	_, err := client.WaitTask(context.Background(), "t", "k", 5, time.Millisecond)
	var failure *TaskFailedError
	if !errors.As(err, &failure) {
		t.Fatalf("err = %v, want TaskFailedError", err)
	}
	if failure.Code != 429 {
		t.Fatalf("Code = %d, want 429", failure.Code)
	}
}

func TestWaitTaskHonorsContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_status":"RUNNING"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "k")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.WaitTask(ctx, "t", "k", 100, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
