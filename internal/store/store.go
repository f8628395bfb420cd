// Package store persists resolution runs, per-label outcomes and cached model
// output. SQLite is the local default; Postgres serves shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one batch of labels resolved together.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Source    string    `json:"source" yaml:"source"`
	Status    RunStatus `json:"status" yaml:"status"`
	Labels    int       `json:"labels" yaml:"labels"`
	Matched   int       `json:"matched" yaml:"matched"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Outcome is the stored form of one resolved label.
type Outcome struct {
	ID           string    `json:"id" yaml:"id"`
	RunID        string    `json:"run_id" yaml:"run_id"`
	Raw          string    `json:"raw" yaml:"raw"`
	Normalized   string    `json:"normalized" yaml:"normalized"`
	Name         string    `json:"name" yaml:"name"`
	Address      string    `json:"address" yaml:"address"`
	RecipientID  string    `json:"recipient_id,omitempty" yaml:"recipient_id,omitempty"`
	Score        float64   `json:"score" yaml:"score"`
	NameScore    float64   `json:"name_score" yaml:"name_score"`
	AddressScore float64   `json:"address_score" yaml:"address_score"`
	Method       string    `json:"method" yaml:"method"`
	Errors       []string  `json:"errors,omitempty" yaml:"errors,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms" yaml:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for label resolution.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, status RunStatus, labels, matched int) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Outcomes
	SaveOutcome(ctx context.Context, o Outcome) error
	ListOutcomes(ctx context.Context, runID string) ([]Outcome, error)

	// Model output cache
	GetCachedGeneration(ctx context.Context, key string) ([]byte, error)
	SetCachedGeneration(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredGenerations(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver: "sqlite" (dsn is a file path)
// or "postgres" (dsn is a connection string).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	}
	return nil, eris.Errorf("store: unknown driver %q", driver)
}

const defaultListLimit = 100
