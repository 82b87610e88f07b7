package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"modabot/internal/infra"
	"modabot/internal/sqlinline"
)

// Local task lifecycle states. The remote "SUCCEED" terminal state is mapped
// to StatusSucceeded before it reaches the store.
const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Task kinds.
const (
	KindGenerate = "generate"
	KindEdit     = "edit"
)

var (
	// ErrTaskNotFound covers both a genuinely missing task and a task the
	// requesting user is not linked to, so existence never leaks.
	ErrTaskNotFound = errors.New("store: task not found")
	// ErrAlreadyFavorited signals a duplicate favorite for the same
	// (user, task) pair.
	ErrAlreadyFavorited = errors.New("store: task already favorited")
)

// Task is the canonical job record. Request parameters are immutable after
// creation; result fields are written on completion.
type Task struct {
	ID           int64
	RemoteTaskID string
	APIKey       string
	Kind         string
	Model        string

	Prompt         string
	NegativePrompt *string
	Size           *string
	Seed           *int64
	Steps          *int32
	Guidance       *float64
	InputImageURL  *string

	Status       string
	RequestID    *string
	OutputImages []string
	ResultSeed   *int64

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the task reached SUCCEEDED or FAILED.
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// CreateTaskParams carries the immutable request parameters for a new task
// row. Zero values for optional fields are stored as NULL.
type CreateTaskParams struct {
	RemoteTaskID   string
	APIKey         string
	Kind           string
	Model          string
	Prompt         string
	NegativePrompt string
	Size           string
	Seed           *int64
	Steps          int
	Guidance       float64
	InputImageURL  string
	RequestID      string
}

// UpdateTaskParams is a partial update merged into an existing task. Empty
// strings and nil values leave the column untouched.
type UpdateTaskParams struct {
	Status       string
	OutputImages []string
	ResultSeed   *int64
	RequestID    string
}

// Store persists tasks, user links, and favorites.
type Store struct {
	sql infra.SQLExecutor
}

// New wires a store over an SQL executor.
func New(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the three tables and their indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		sqlinline.QCreateTasksTable,
		sqlinline.QCreateTasksRemoteIDIndex,
		sqlinline.QCreateUserTasksTable,
		sqlinline.QCreateUserTasksUserIDIndex,
		sqlinline.QCreateUserTasksTaskIDIndex,
		sqlinline.QCreateFavoritesTable,
	}
	for _, q := range statements {
		if _, err := s.sql.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// CreateTask inserts a PENDING task and returns its internal id.
func (s *Store) CreateTask(ctx context.Context, params CreateTaskParams) (int64, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QInsertTask,
		params.RemoteTaskID,
		params.APIKey,
		params.Kind,
		params.Model,
		params.Prompt,
		params.NegativePrompt,
		params.Size,
		params.Seed,
		params.Steps,
		params.Guidance,
		params.InputImageURL,
		params.RequestID,
	)
	var id int64
	var createdAt time.Time
	if err := row.Scan(&id, &createdAt); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateTask merges the partial fields into the task identified by its remote
// job id. The current row is read first so completedAt is stamped exactly
// once, on the first transition into a terminal status; the coalesce in the
// update statement keeps the first timestamp if two updates race. Returns
// ErrTaskNotFound when no row matches.
func (s *Store) UpdateTask(ctx context.Context, remoteTaskID string, params UpdateTaskParams) error {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectTaskStateByRemoteID, remoteTaskID)
	var status string
	var completedAt *time.Time
	if err := row.Scan(&status, &completedAt); err != nil {
		if infra.IsNoRows(err) {
			return ErrTaskNotFound
		}
		return err
	}

	merged := status
	if params.Status != "" {
		merged = params.Status
	}
	var completeNow *time.Time
	if completedAt == nil && (merged == StatusSucceeded || merged == StatusFailed) {
		now := time.Now().UTC()
		completeNow = &now
	}

	tag, err := s.sql.Exec(ctx, sqlinline.QUpdateTaskByRemoteID,
		remoteTaskID,
		params.Status,
		params.OutputImages,
		params.ResultSeed,
		params.RequestID,
		completeNow,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// LinkUserTask associates a user with a task. Links are create-only and
// duplicates are tolerated; they exist purely for authorization checks.
func (s *Store) LinkUserTask(ctx context.Context, userID string, taskID int64) error {
	row := s.sql.QueryRow(ctx, sqlinline.QInsertUserTask, userID, taskID)
	var id int64
	return row.Scan(&id)
}

// GetTaskByID returns the task only when a link exists for the user.
func (s *Store) GetTaskByID(ctx context.Context, id int64, userID string) (*Task, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectTaskForUser, id, userID)
	return scanTask(row)
}

// GetTaskByIDNoAuth returns the task without an ownership check. Used by
// trusted flows such as redraw, where any user may reference any task id.
func (s *Store) GetTaskByIDNoAuth(ctx context.Context, id int64) (*Task, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectTaskByID, id)
	return scanTask(row)
}

// GetUserTasks lists the user's linked tasks, newest link first. An empty
// page is an empty slice, not an error.
func (s *Store) GetUserTasks(ctx context.Context, userID string, limit, offset int) ([]Task, error) {
	return s.listTasks(ctx, sqlinline.QListTasksForUser, userID, limit, offset)
}

// AddFavorite inserts a favorite, translating the unique-violation into
// ErrAlreadyFavorited.
func (s *Store) AddFavorite(ctx context.Context, userID string, taskID int64, note string, tags []string) error {
	row := s.sql.QueryRow(ctx, sqlinline.QInsertFavorite, userID, taskID, note, tags)
	var id int64
	if err := row.Scan(&id); err != nil {
		if infra.IsUniqueViolation(err) {
			return ErrAlreadyFavorited
		}
		return err
	}
	return nil
}

// RemoveFavorite deletes the favorite if present; absence is not an error.
func (s *Store) RemoveFavorite(ctx context.Context, userID string, taskID int64) error {
	_, err := s.sql.Exec(ctx, sqlinline.QDeleteFavorite, userID, taskID)
	return err
}

// ClearAllFavorites deletes every favorite of the user and returns the count.
func (s *Store) ClearAllFavorites(ctx context.Context, userID string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteAllFavorites, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetUserFavorites lists the user's favorited tasks, newest favorite first.
func (s *Store) GetUserFavorites(ctx context.Context, userID string, limit, offset int) ([]Task, error) {
	return s.listTasks(ctx, sqlinline.QListFavoriteTasksForUser, userID, limit, offset)
}

// IsFavorited reports whether the (user, task) favorite exists.
func (s *Store) IsFavorited(ctx context.Context, userID string, taskID int64) (bool, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QFavoriteExists, userID, taskID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) listTasks(ctx context.Context, query, userID string, limit, offset int) ([]Task, error) {
	rows, err := s.sql.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		task, err := scanTaskFields(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*Task, error) {
	task, err := scanTaskFields(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTaskFields(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.RemoteTaskID,
		&t.APIKey,
		&t.Kind,
		&t.Model,
		&t.Prompt,
		&t.NegativePrompt,
		&t.Size,
		&t.Seed,
		&t.Steps,
		&t.Guidance,
		&t.InputImageURL,
		&t.Status,
		&t.RequestID,
		&t.OutputImages,
		&t.ResultSeed,
		&t.CreatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
