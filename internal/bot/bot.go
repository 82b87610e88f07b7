package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modabot/internal/aiprompt"
	"modabot/internal/domain/modelcfg"
	"modabot/internal/imaging"
	"modabot/internal/infra"
	"modabot/internal/modelscope"
	"modabot/internal/render"
	"modabot/internal/store"
)

// kindConfig parameterizes the shared submit/poll pipeline per task kind.
// Edits run on a far larger budget than generations.
type kindConfig struct {
	kind               string
	maxAttempts        int
	interval           time.Duration
	requiresInputImage bool
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Client    *modelscope.Client
	Store     *store.Store
	Registry  *modelcfg.Registry
	Optimizer aiprompt.Optimizer
	Config    *infra.Config
	Logger    *infra.Logger
}

// Orchestrator runs the user-facing flows: submit a job, record it, wait for
// the terminal state, and reconcile the result into the store.
type Orchestrator struct {
	client    *modelscope.Client
	store     *store.Store
	registry  *modelcfg.Registry
	optimizer aiprompt.Optimizer
	logger    *infra.Logger

	generate kindConfig
	edit     kindConfig

	defaultSize          string
	enableNegativePrompt bool
	negativePrompt       string

	autoDetectSize bool
	scaleMode      string
	maxWidth       int
	maxHeight      int

	tasksPerPage int
	favsPerPage  int
}

// GenerateOptions carries the caller's optional per-job overrides.
type GenerateOptions struct {
	Size           string
	NegativePrompt string
	Seed           *int64
	Steps          int
	Guidance       float64
}

// EditImage is the edit flow's input picture: the URL the remote API fetches
// plus, optionally, the raw bytes for local size sniffing.
type EditImage struct {
	URL  string
	Data []byte
}

// TaskOutcome is a completed flow: the stored record's id plus the remote
// result.
type TaskOutcome struct {
	TaskID       int64
	RemoteTaskID string
	Model        string
	ImageURL     string
	OutputImages []string
	ResultSeed   *int64
}

// TaskPage is one page of a user's task or favorite listing.
type TaskPage struct {
	Tasks   []store.Task
	Page    int
	HasMore bool
}

// New builds the orchestrator from configuration.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil || opts.Store == nil || opts.Registry == nil || opts.Config == nil {
		return nil, errors.New("bot: client, store, registry, and config are required")
	}
	optimizer := opts.Optimizer
	if optimizer == nil {
		optimizer = aiprompt.NewStaticOptimizer()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.Nop()
		logger = &discard
	}
	cfg := opts.Config
	return &Orchestrator{
		client:    opts.Client,
		store:     opts.Store,
		registry:  opts.Registry,
		optimizer: optimizer,
		logger:    logger,
		generate: kindConfig{
			kind:        store.KindGenerate,
			maxAttempts: cfg.GenerateMaxRetries,
			interval:    cfg.GenerateRetryInterval,
		},
		edit: kindConfig{
			kind:               store.KindEdit,
			maxAttempts:        cfg.EditMaxRetries,
			interval:           cfg.EditRetryInterval,
			requiresInputImage: true,
		},
		defaultSize:          cfg.DefaultSize,
		enableNegativePrompt: cfg.EnableNegativePrompt,
		negativePrompt:       cfg.NegativePrompt,
		autoDetectSize:       cfg.AutoDetectSize,
		scaleMode:            cfg.ScaleMode,
		maxWidth:             cfg.MaxWidth,
		maxHeight:            cfg.MaxHeight,
		tasksPerPage:         cfg.TasksPerPage,
		favsPerPage:          cfg.FavsPerPage,
	}, nil
}

// Generate runs the text-to-image flow for a user. userID may be empty for
// system-initiated jobs, which then have no user link.
func (o *Orchestrator) Generate(ctx context.Context, userID, prompt, modelQuery string, opts GenerateOptions) (*TaskOutcome, error) {
	model, ok := o.registry.ResolveGenerate(modelQuery)
	if !ok {
		return nil, fmt.Errorf("bot: unknown generation model %q", modelQuery)
	}
	if opts.Size == "" {
		opts.Size = o.defaultGenerateSize(model)
	}
	return o.run(ctx, o.generate, userID, model, "", prompt, opts)
}

// Edit runs the image-to-image flow. The image URL is mandatory; when the
// caller did not pin a size and auto-detection is on, the source image's
// dimensions are sniffed (and scaled to bounds in fit mode).
func (o *Orchestrator) Edit(ctx context.Context, userID string, image EditImage, prompt, modelQuery string, opts GenerateOptions) (*TaskOutcome, error) {
	model, ok := o.registry.ResolveEdit(modelQuery)
	if !ok {
		return nil, fmt.Errorf("bot: unknown edit model %q", modelQuery)
	}
	if strings.TrimSpace(image.URL) == "" {
		return nil, errors.New("bot: edit requires an input image url")
	}
	if opts.Size == "" {
		opts.Size = o.detectEditSize(image, model)
	}
	return o.run(ctx, o.edit, userID, model, image.URL, prompt, opts)
}

// Redraw resubmits a stored task's parameters as a new job, optionally
// overriding the seed. Lookup skips the ownership check: any user may redraw
// any task id they know.
func (o *Orchestrator) Redraw(ctx context.Context, userID string, taskID int64, seedOverride *int64) (*TaskOutcome, error) {
	task, err := o.store.GetTaskByIDNoAuth(ctx, taskID)
	if err != nil {
		return nil, err
	}

	opts := GenerateOptions{Seed: seedOverride}
	if opts.Seed == nil {
		opts.Seed = task.ResultSeed
	}
	if task.Size != nil {
		opts.Size = *task.Size
	}
	// The stored negative prompt is already merged; passing it as the
	// override re-merges to the same fragment set.
	if task.NegativePrompt != nil {
		opts.NegativePrompt = *task.NegativePrompt
	}
	if task.Steps != nil {
		opts.Steps = int(*task.Steps)
	}
	if task.Guidance != nil {
		opts.Guidance = *task.Guidance
	}

	if task.Kind == store.KindEdit {
		if task.InputImageURL == nil || *task.InputImageURL == "" {
			return nil, errors.New("bot: stored edit task has no input image url")
		}
		return o.Edit(ctx, userID, EditImage{URL: *task.InputImageURL}, task.Prompt, task.Model, opts)
	}
	return o.Generate(ctx, userID, task.Prompt, task.Model, opts)
}

// AIGenerate lets the optimizer rewrite the description and pick a model,
// then runs the generate flow with the result.
func (o *Orchestrator) AIGenerate(ctx context.Context, userID, description string) (*TaskOutcome, *aiprompt.Result, error) {
	result, err := o.optimizer.Optimize(ctx, description, o.registry.AliasList())
	if err != nil {
		return nil, nil, fmt.Errorf("bot: prompt optimization: %w", err)
	}
	outcome, err := o.Generate(ctx, userID, result.Prompt, result.Model, GenerateOptions{})
	if err != nil {
		return nil, result, err
	}
	return outcome, result, nil
}

func (o *Orchestrator) run(ctx context.Context, kc kindConfig, userID string, model modelcfg.ModelConfig, imageURL, prompt string, opts GenerateOptions) (*TaskOutcome, error) {
	if kc.requiresInputImage && strings.TrimSpace(imageURL) == "" {
		return nil, errors.New("bot: input image url is required for this task kind")
	}
	if opts.Steps == 0 {
		opts.Steps = model.DefaultSteps
	}
	if opts.Guidance == 0 {
		opts.Guidance = model.DefaultGuidance
	}

	created, err := o.client.CreateTask(ctx, modelscope.CreateTaskInput{
		ImageURL:             imageURL,
		Prompt:               prompt,
		Model:                model.Name,
		TriggerWords:         model.TriggerWords,
		ModelNegativePrompt:  model.NegativePrompt,
		GlobalNegativePrompt: o.negativePrompt,
		GlobalNegativeOn:     o.enableNegativePrompt,
		Size:                 opts.Size,
		NegativePrompt:       opts.NegativePrompt,
		Seed:                 opts.Seed,
		Steps:                opts.Steps,
		Guidance:             opts.Guidance,
	})
	if err != nil {
		return nil, err
	}

	taskID, err := o.store.CreateTask(ctx, store.CreateTaskParams{
		RemoteTaskID:   created.TaskID,
		APIKey:         created.APIKey,
		Kind:           kc.kind,
		Model:          model.Name,
		Prompt:         created.FinalPrompt,
		NegativePrompt: created.FinalNegativePrompt,
		Size:           opts.Size,
		Seed:           opts.Seed,
		Steps:          opts.Steps,
		Guidance:       opts.Guidance,
		InputImageURL:  imageURL,
		RequestID:      created.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: persist task: %w", err)
	}
	if userID != "" {
		if err := o.store.LinkUserTask(ctx, userID, taskID); err != nil {
			return nil, fmt.Errorf("bot: link user task: %w", err)
		}
	}
	o.logger.Info().
		Int64("task_id", taskID).
		Str("remote_task_id", created.TaskID).
		Str("kind", kc.kind).
		Str("model", model.Name).
		Msg("bot: task created")

	result, err := o.client.WaitTask(ctx, created.TaskID, created.APIKey, kc.maxAttempts, kc.interval)
	if err != nil {
		// A remote failure is recorded; a local timeout is not, since the
		// remote job may still complete and a later status check can
		// reconcile it.
		var failure *modelscope.TaskFailedError
		if errors.As(err, &failure) {
			if updateErr := o.store.UpdateTask(ctx, created.TaskID, store.UpdateTaskParams{
				Status: store.StatusFailed,
			}); updateErr != nil {
				o.logger.Error().Err(updateErr).Str("remote_task_id", created.TaskID).Msg("bot: record task failure")
			}
		}
		return nil, err
	}

	if err := o.store.UpdateTask(ctx, created.TaskID, store.UpdateTaskParams{
		Status:       store.StatusSucceeded,
		OutputImages: result.OutputImages,
		ResultSeed:   result.Seed,
	}); err != nil {
		return nil, fmt.Errorf("bot: record task result: %w", err)
	}

	return &TaskOutcome{
		TaskID:       taskID,
		RemoteTaskID: created.TaskID,
		Model:        model.Name,
		ImageURL:     result.ImageURL,
		OutputImages: result.OutputImages,
		ResultSeed:   result.Seed,
	}, nil
}

// CheckTask returns the user's task, refreshing a non-terminal record with a
// live status query against the credential the job was created with.
func (o *Orchestrator) CheckTask(ctx context.Context, userID string, taskID int64) (*store.Task, error) {
	task, err := o.store.GetTaskByID(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	if task.Terminal() {
		return task, nil
	}

	status, err := o.client.TaskStatus(ctx, task.RemoteTaskID, task.APIKey)
	if err != nil {
		// Stale but queryable beats an error for a status command.
		o.logger.Warn().Err(err).Str("remote_task_id", task.RemoteTaskID).Msg("bot: live status refresh failed")
		return task, nil
	}
	update := store.UpdateTaskParams{Status: localStatus(status.TaskStatus)}
	if update.Status == store.StatusSucceeded {
		update.OutputImages = status.OutputImages
		if status.Input.Seed != nil {
			update.ResultSeed = status.Input.Seed
		} else {
			update.ResultSeed = status.Seed
		}
	}
	if err := o.store.UpdateTask(ctx, task.RemoteTaskID, update); err != nil {
		return nil, err
	}
	return o.store.GetTaskByID(ctx, taskID, userID)
}

// Tasks returns one page of the user's tasks, newest first. One extra row is
// fetched to detect whether a next page exists.
func (o *Orchestrator) Tasks(ctx context.Context, userID string, page int) (*TaskPage, error) {
	return o.listPage(ctx, userID, page, o.tasksPerPage, o.store.GetUserTasks)
}

// Favorites returns one page of the user's favorited tasks.
func (o *Orchestrator) Favorites(ctx context.Context, userID string, page int) (*TaskPage, error) {
	return o.listPage(ctx, userID, page, o.favsPerPage, o.store.GetUserFavorites)
}

func (o *Orchestrator) listPage(ctx context.Context, userID string, page, pageSize int, list func(context.Context, string, int, int) ([]store.Task, error)) (*TaskPage, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	tasks, err := list(ctx, userID, pageSize+1, offset)
	if err != nil {
		return nil, err
	}
	tasks, hasMore := render.TrimPage(tasks, pageSize)
	return &TaskPage{Tasks: tasks, Page: page, HasMore: hasMore}, nil
}

// Favorite adds the task to the user's favorites. The duplicate case is a
// no-op reported through the returned flag, not an error.
func (o *Orchestrator) Favorite(ctx context.Context, userID string, taskID int64, note string, tags []string) (already bool, err error) {
	if _, err := o.store.GetTaskByID(ctx, taskID, userID); err != nil {
		return false, err
	}
	if err := o.store.AddFavorite(ctx, userID, taskID, note, tags); err != nil {
		if errors.Is(err, store.ErrAlreadyFavorited) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Unfavorite removes the favorite; absence is a silent no-op.
func (o *Orchestrator) Unfavorite(ctx context.Context, userID string, taskID int64) error {
	return o.store.RemoveFavorite(ctx, userID, taskID)
}

// ClearFavorites removes all of the user's favorites and reports the count.
func (o *Orchestrator) ClearFavorites(ctx context.Context, userID string) (int64, error) {
	return o.store.ClearAllFavorites(ctx, userID)
}

// TaskInfo returns the task plus its favorite state for detail rendering.
func (o *Orchestrator) TaskInfo(ctx context.Context, userID string, taskID int64) (*store.Task, bool, error) {
	task, err := o.store.GetTaskByID(ctx, taskID, userID)
	if err != nil {
		return nil, false, err
	}
	favorited, err := o.store.IsFavorited(ctx, userID, taskID)
	if err != nil {
		return nil, false, err
	}
	return task, favorited, nil
}

func (o *Orchestrator) defaultGenerateSize(model modelcfg.ModelConfig) string {
	if model.DefaultSize != "" {
		return model.DefaultSize
	}
	return o.defaultSize
}

func (o *Orchestrator) detectEditSize(image EditImage, model modelcfg.ModelConfig) string {
	if !o.autoDetectSize || len(image.Data) == 0 {
		return model.DefaultSize
	}
	detected := imaging.DetectSize(image.Data)
	if detected == imaging.SizeUnknown {
		return model.DefaultSize
	}
	if o.scaleMode == "fit" {
		var w, h int
		if _, err := fmt.Sscanf(detected, "%dx%d", &w, &h); err == nil {
			w, h = imaging.FitSize(w, h, o.maxWidth, o.maxHeight)
			return imaging.SizeString(w, h)
		}
	}
	return detected
}

// localStatus maps a remote task_status value onto the store's lifecycle.
func localStatus(remote string) string {
	switch remote {
	case "SUCCEED":
		return store.StatusSucceeded
	case "FAILED":
		return store.StatusFailed
	case "PENDING":
		return store.StatusPending
	default:
		return store.StatusRunning
	}
}
