package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modabot/internal/bot"
	"modabot/internal/modelscope"
	"modabot/internal/store"

	"github.com/go-chi/chi/v5"
)

type outcomeResponse struct {
	TaskID       int64    `json:"task_id"`
	RemoteTaskID string   `json:"remote_task_id"`
	Model        string   `json:"model"`
	ImageURL     string   `json:"image_url"`
	OutputImages []string `json:"output_images"`
	ResultSeed   *int64   `json:"result_seed,omitempty"`
}

type taskResponse struct {
	ID             int64      `json:"id"`
	Kind           string     `json:"kind"`
	Model          string     `json:"model"`
	Prompt         string     `json:"prompt"`
	NegativePrompt *string    `json:"negative_prompt,omitempty"`
	Size           *string    `json:"size,omitempty"`
	Status         string     `json:"status"`
	OutputImages   []string   `json:"output_images,omitempty"`
	ResultSeed     *int64     `json:"result_seed,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ModaGenerate submits a text-to-image job and, once it completes, redirects
// to the first output image. format=json returns the outcome instead.
func (a *App) ModaGenerate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prompt := q.Get("prompt")
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	outcome, err := a.Bot.Generate(r.Context(), a.currentUserID(r), prompt, q.Get("model"), generateOptionsFromQuery(r))
	if err != nil {
		a.botError(w, err)
		return
	}
	a.outcome(w, r, outcome)
}

// ModaEdit submits an image-to-image job against the image url in the query.
func (a *App) ModaEdit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	imageURL := q.Get("image")
	if imageURL == "" {
		imageURL = q.Get("imageUrl")
	}
	if imageURL == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "image required")
		return
	}
	prompt := q.Get("prompt")
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	outcome, err := a.Bot.Edit(r.Context(), a.currentUserID(r), bot.EditImage{URL: imageURL}, prompt, q.Get("model"), generateOptionsFromQuery(r))
	if err != nil {
		a.botError(w, err)
		return
	}
	a.outcome(w, r, outcome)
}

// ModaAI rewrites the description with the prompt optimizer before
// generating.
func (a *App) ModaAI(w http.ResponseWriter, r *http.Request) {
	description := r.URL.Query().Get("prompt")
	if description == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt required")
		return
	}
	outcome, result, err := a.Bot.AIGenerate(r.Context(), a.currentUserID(r), description)
	if err != nil {
		a.botError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		a.json(w, http.StatusOK, map[string]any{
			"task_id":        outcome.TaskID,
			"remote_task_id": outcome.RemoteTaskID,
			"model":          outcome.Model,
			"image_url":      outcome.ImageURL,
			"output_images":  outcome.OutputImages,
			"result_seed":    outcome.ResultSeed,
			"final_prompt":   result.Prompt,
			"reason":         result.Reason,
		})
		return
	}
	a.redirect(w, r, outcome)
}

// ModaTask returns the stored task, refreshed against the remote API when it
// is still in flight.
func (a *App) ModaTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid task id")
		return
	}
	task, err := a.Bot.CheckTask(r.Context(), a.currentUserID(r), id)
	if err != nil {
		a.botError(w, err)
		return
	}
	a.json(w, http.StatusOK, taskResponseFrom(task))
}

// ModaTasks lists the user's tasks, one page at a time.
func (a *App) ModaTasks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	result, err := a.Bot.Tasks(r.Context(), a.currentUserID(r), page)
	if err != nil {
		a.botError(w, err)
		return
	}
	a.taskPage(w, result)
}

// ModaFavorites lists the user's favorited tasks.
func (a *App) ModaFavorites(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	result, err := a.Bot.Favorites(r.Context(), a.currentUserID(r), page)
	if err != nil {
		a.botError(w, err)
		return
	}
	a.taskPage(w, result)
}

// ModaFavorite adds the task to the user's favorites, with an optional note
// and comma-separated tags.
func (a *App) ModaFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid task id")
		return
	}
	q := r.URL.Query()
	already, err := a.Bot.Favorite(r.Context(), a.currentUserID(r), id, q.Get("note"), splitTags(q.Get("tags")))
	if err != nil {
		a.botError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"task_id": id, "favorited": true, "already_favorited": already})
}

// ModaUnfavorite removes the favorite; removing an absent one succeeds.
func (a *App) ModaUnfavorite(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid task id")
		return
	}
	if err := a.Bot.Unfavorite(r.Context(), a.currentUserID(r), id); err != nil {
		a.botError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"task_id": id, "favorited": false})
}

func (a *App) taskPage(w http.ResponseWriter, page *bot.TaskPage) {
	tasks := make([]taskResponse, 0, len(page.Tasks))
	for i := range page.Tasks {
		tasks = append(tasks, taskResponseFrom(&page.Tasks[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"tasks":    tasks,
		"page":     page.Page,
		"has_more": page.HasMore,
	})
}

func (a *App) outcome(w http.ResponseWriter, r *http.Request, outcome *bot.TaskOutcome) {
	if r.URL.Query().Get("format") == "json" {
		a.json(w, http.StatusOK, outcomeResponse{
			TaskID:       outcome.TaskID,
			RemoteTaskID: outcome.RemoteTaskID,
			Model:        outcome.Model,
			ImageURL:     outcome.ImageURL,
			OutputImages: outcome.OutputImages,
			ResultSeed:   outcome.ResultSeed,
		})
		return
	}
	a.redirect(w, r, outcome)
}

func (a *App) redirect(w http.ResponseWriter, r *http.Request, outcome *bot.TaskOutcome) {
	if outcome.ImageURL == "" {
		a.error(w, http.StatusBadGateway, "upstream", "task produced no image")
		return
	}
	http.Redirect(w, r, outcome.ImageURL, http.StatusFound)
}

func (a *App) botError(w http.ResponseWriter, err error) {
	var failure *modelscope.TaskFailedError
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		a.error(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, modelscope.ErrTaskTimeout):
		a.error(w, http.StatusGatewayTimeout, "timeout", "task did not finish in time; check its status later")
	case errors.Is(err, modelscope.ErrAuthFailed):
		a.error(w, http.StatusBadGateway, "upstream_auth", "all api keys were rejected upstream")
	case errors.As(err, &failure):
		a.error(w, http.StatusBadGateway, "task_failed", failure.Error())
	default:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// splitTags turns "night, fox" into its non-empty trimmed parts; an empty
// value yields nil so the column stays NULL.
func splitTags(value string) []string {
	var tags []string
	for _, tag := range strings.Split(value, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func generateOptionsFromQuery(r *http.Request) bot.GenerateOptions {
	q := r.URL.Query()
	opts := bot.GenerateOptions{
		Size:           q.Get("size"),
		NegativePrompt: q.Get("negative_prompt"),
	}
	if v := q.Get("seed"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			opts.Seed = &seed
		}
	}
	if v := q.Get("steps"); v != "" {
		if steps, err := strconv.Atoi(v); err == nil {
			opts.Steps = steps
		}
	}
	if v := q.Get("guidance"); v != "" {
		if guidance, err := strconv.ParseFloat(v, 64); err == nil {
			opts.Guidance = guidance
		}
	}
	return opts
}

func taskResponseFrom(task *store.Task) taskResponse {
	return taskResponse{
		ID:             task.ID,
		Kind:           task.Kind,
		Model:          task.Model,
		Prompt:         task.Prompt,
		NegativePrompt: task.NegativePrompt,
		Size:           task.Size,
		Status:         task.Status,
		OutputImages:   task.OutputImages,
		ResultSeed:     task.ResultSeed,
		CreatedAt:      task.CreatedAt,
		CompletedAt:    task.CompletedAt,
	}
}
