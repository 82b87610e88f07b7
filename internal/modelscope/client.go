package modelscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modabot/internal/infra"
)

// Remote terminal states as reported by the task endpoint.
const (
	remoteStatusSucceed = "SUCCEED"
	remoteStatusFailed  = "FAILED"
)

var (
	// ErrAuthFailed is returned after every configured key failed with an
	// unauthorized-class error. Tokens expire and must be bound to an Aliyun
	// account before they work.
	ErrAuthFailed = errors.New("modelscope: authentication failed: check that the token is valid and bound to an Aliyun account")
	// ErrTaskTimeout means the polling budget ran out while the remote job was
	// still in progress. The job may still finish remotely; we just stop waiting.
	ErrTaskTimeout = errors.New("modelscope: task timed out")
)

// TaskFailedError is the remote failure terminal state, carrying the upstream
// error code and message when the response included them.
type TaskFailedError struct {
	Code    int
	Message string
}

func (e *TaskFailedError) Error() string {
	if e.Code == 0 && e.Message == "" {
		return "modelscope: task failed"
	}
	msg := fmt.Sprintf("modelscope: task failed (%d): %s", e.Code, e.Message)
	switch e.Code {
	case http.StatusTooManyRequests:
		msg += " (rate limited: retry later or switch api key)"
	case http.StatusUnauthorized, http.StatusForbidden:
		msg += " (auth rejected: check api key validity)"
	}
	return msg
}

// Options configures the ModelScope async inference client.
type Options struct {
	BaseURL        string
	Keyring        *Keyring
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// FirstPollDelay is the shortened wait before the first status query; fast
	// generations often finish within it. Defaults to one second.
	FirstPollDelay time.Duration
}

// Client performs HTTP calls against the ModelScope asynchronous image API.
type Client struct {
	baseURL        string
	keyring        *Keyring
	httpClient     *http.Client
	logger         *infra.Logger
	firstPollDelay time.Duration
}

// CreateTaskInput captures one job submission before prompt composition.
type CreateTaskInput struct {
	// ImageURL is set only for edit jobs. It must be omitted from the wire
	// request when empty: the upstream API answers an empty image_url with a
	// rate-limit-class error.
	ImageURL string
	Prompt   string
	Model    string

	TriggerWords        string
	ModelNegativePrompt string

	GlobalNegativePrompt string
	GlobalNegativeOn     bool

	Size           string
	NegativePrompt string
	Seed           *int64
	Steps          int
	Guidance       float64
}

// CreateTaskResult is the accepted submission: the remote job handle plus the
// key that must be reused for every subsequent status query.
type CreateTaskResult struct {
	TaskID              string
	APIKey              string
	RequestID           string
	FinalPrompt         string
	FinalNegativePrompt string
}

// TaskResult is the success terminal state of a polled job.
type TaskResult struct {
	ImageURL     string
	Seed         *int64
	OutputImages []string
}

type generationRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	ImageURL       string  `json:"image_url,omitempty"`
	Size           string  `json:"size,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
}

type generationResponse struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
}

// StatusResponse is the raw task-status payload from the remote API.
type StatusResponse struct {
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images"`
	Input        struct {
		Seed *int64 `json:"seed"`
	} `json:"input"`
	Seed      *int64 `json:"seed"`
	RequestID string `json:"request_id"`
	Errors    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if opts.Keyring == nil {
		return nil, ErrNoAPIKeys
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-inference.modelscope.cn"
	}
	firstPollDelay := opts.FirstPollDelay
	if firstPollDelay <= 0 {
		firstPollDelay = time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		baseURL:        baseURL,
		keyring:        opts.Keyring,
		httpClient:     httpClient,
		logger:         logger,
		firstPollDelay: firstPollDelay,
	}, nil
}

// CreateTask composes the final prompt pair and submits the job, trying each
// configured key once until an attempt succeeds. The returned key is sticky:
// polling the job with a different key fails upstream.
func (c *Client) CreateTask(ctx context.Context, input CreateTaskInput) (*CreateTaskResult, error) {
	prompt := ComposePrompt(input.Prompt, input.TriggerWords)

	var globalNegative string
	if input.GlobalNegativeOn {
		globalNegative = input.GlobalNegativePrompt
	}
	finalNegative := MergeNegativePrompts(globalNegative, input.ModelNegativePrompt, input.NegativePrompt)

	payload := generationRequest{
		Model:          input.Model,
		Prompt:         prompt,
		Size:           strings.TrimSpace(input.Size),
		NegativePrompt: finalNegative,
		Seed:           input.Seed,
	}
	if img := strings.TrimSpace(input.ImageURL); img != "" {
		payload.ImageURL = img
	}
	if input.Steps > 0 {
		payload.Steps = input.Steps
	}
	if input.Guidance > 0 {
		payload.Guidance = input.Guidance
	}

	attempts := c.keyring.Len()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		apiKey := c.keyring.Next()
		resp, err := c.submit(ctx, payload, apiKey)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).
				Int("attempt", attempt+1).
				Int("attempts", attempts).
				Str("model", input.Model).
				Msg("modelscope: submission attempt failed")
			continue
		}
		c.logger.Debug().
			Str("task_id", resp.TaskID).
			Str("request_id", resp.RequestID).
			Str("model", input.Model).
			Msg("modelscope: task created")
		return &CreateTaskResult{
			TaskID:              resp.TaskID,
			APIKey:              apiKey,
			RequestID:           resp.RequestID,
			FinalPrompt:         prompt,
			FinalNegativePrompt: finalNegative,
		}, nil
	}

	if isUnauthorized(lastErr) {
		return nil, fmt.Errorf("%w (last error: %v)", ErrAuthFailed, lastErr)
	}
	return nil, lastErr
}

func (c *Client) submit(ctx context.Context, payload generationRequest, apiKey string) (*generationResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("modelscope: encode request: %w", err)
	}
	endpoint := c.baseURL + "/v1/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("modelscope: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-ModelScope-Async-Mode", "true")

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("modelscope: decode response: %w", err)
	}
	if decoded.TaskID == "" {
		return nil, errors.New("modelscope: response missing task_id")
	}
	return &decoded, nil
}

// TaskStatus queries the remote job once, using the key the job was created
// with.
func (c *Client) TaskStatus(ctx context.Context, taskID, apiKey string) (*StatusResponse, error) {
	endpoint := c.baseURL + "/v1/tasks/" + taskID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("modelscope: build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-ModelScope-Task-Type", "image_generation")

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var decoded StatusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("modelscope: decode status response: %w", err)
	}
	return &decoded, nil
}

// WaitTask polls the job until it reaches a terminal state or the attempt
// budget runs out. Each iteration sleeps first (a short delay before the very
// first query, the configured interval afterwards) so the remote side is not
// hammered right after submission. WaitTask persists nothing; the caller owns
// the store.
func (c *Client) WaitTask(ctx context.Context, taskID, apiKey string, maxAttempts int, interval time.Duration) (*TaskResult, error) {
	for i := 0; i < maxAttempts; i++ {
		wait := interval
		if i == 0 {
			wait = c.firstPollDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		status, err := c.TaskStatus(ctx, taskID, apiKey)
		if err != nil {
			return nil, err
		}

		switch status.TaskStatus {
		case remoteStatusSucceed:
			if len(status.OutputImages) == 0 {
				return nil, errors.New("modelscope: task succeeded without output images")
			}
			return &TaskResult{
				ImageURL:     status.OutputImages[0],
				Seed:         extractSeed(status),
				OutputImages: status.OutputImages,
			}, nil
		case remoteStatusFailed:
			failure := &TaskFailedError{}
			if status.Errors != nil {
				failure.Code = status.Errors.Code
				failure.Message = status.Errors.Message
			}
			return nil, failure
		}
		c.logger.Debug().
			Str("task_id", taskID).
			Str("status", status.TaskStatus).
			Int("attempt", i+1).
			Int("attempts", maxAttempts).
			Msg("modelscope: task still in progress")
	}
	return nil, ErrTaskTimeout
}

// extractSeed locates the echoed seed. Upstream has reported it both nested
// under input and at the top level depending on the model; candidates are
// tried in that order as a compatibility shim.
func extractSeed(status *StatusResponse) *int64 {
	if status.Input.Seed != nil {
		return status.Input.Seed
	}
	return status.Seed
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modelscope: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("modelscope: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("modelscope: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Unauthorized") ||
		strings.Contains(strings.ToLower(msg), "unauthorized") ||
		strings.Contains(msg, "401")
}
