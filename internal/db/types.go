package db

import (
	"time"

	"github.com/google/uuid"
)

// Automation run types.
const (
	RunTypeJobApply = "job_apply"
	RunTypeScrape   = "scrape"
	RunTypeEmail    = "email"
)

// Automation run lifecycle statuses. Success and error are terminal and
// never revert.
const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// RunHistoryLimit is the maximum number of runs returned by history queries.
const RunHistoryLimit = 50

// MaxConcurrentRunsCeiling is the absolute system maximum for concurrent
// runs of one type, regardless of the persisted setting.
const MaxConcurrentRunsCeiling = 10

// Retention bounds (days) for terminated run screenshot directories.
const (
	MinScreenshotRetentionDays = 1
	MaxScreenshotRetentionDays = 30
)

// IsRunType reports whether value is a known automation run type.
func IsRunType(value string) bool {
	return value == RunTypeJobApply || value == RunTypeScrape || value == RunTypeEmail
}

// IsRunStatus reports whether value is a known automation run status.
func IsRunStatus(value string) bool {
	return value == RunStatusPending || value == RunStatusRunning ||
		value == RunStatusSuccess || value == RunStatusError
}

// IsTerminalStatus reports whether status is success or error.
func IsTerminalStatus(status string) bool {
	return status == RunStatusSuccess || status == RunStatusError
}

// AutomationRun is the durable record of a single automation run. Field
// names follow the wire contract consumed by the desktop client.
type AutomationRun struct {
	ID          uuid.UUID      `json:"id"`
	RunType     string         `json:"type"`
	Status      string         `json:"status"`
	JobID       *string        `json:"jobId"`
	UserID      *uuid.UUID     `json:"userId"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output"`
	Screenshots []string       `json:"screenshots"`
	Error       *string        `json:"error"`
	Progress    *int           `json:"progress"`
	CurrentStep *int           `json:"currentStep"`
	TotalSteps  *int           `json:"totalSteps"`
	StartedAt   *time.Time     `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// RunInput holds the fields captured when a run row is created.
type RunInput struct {
	RunType string
	JobID   *string
	UserID  *uuid.UUID
	Input   map[string]any
}

// RunFilters holds optional filters for listing runs.
type RunFilters struct {
	RunType string
	Status  string
	Limit   int
}

// AutomationSettings is the persisted automation configuration, stored as a
// JSON column on the settings row.
type AutomationSettings struct {
	Headless             bool   `json:"headless"`
	DefaultTimeout       int    `json:"defaultTimeout"`
	ScreenshotRetention  int    `json:"screenshotRetention"`
	MaxConcurrentRuns    int    `json:"maxConcurrentRuns"`
	DefaultBrowser       string `json:"defaultBrowser"`
	EnableSmartSelectors bool   `json:"enableSmartSelectors"`
	AutoSaveScreenshots  bool   `json:"autoSaveScreenshots"`
}

// DefaultAutomationSettings returns the settings used when no row exists yet.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		Headless:             true,
		DefaultTimeout:       30,
		ScreenshotRetention:  7,
		MaxConcurrentRuns:    1,
		DefaultBrowser:       "chrome",
		EnableSmartSelectors: true,
		AutoSaveScreenshots:  true,
	}
}

// EffectiveConcurrencyLimit clamps the configured ceiling to
// [1, MaxConcurrentRunsCeiling].
func (s AutomationSettings) EffectiveConcurrencyLimit() int {
	limit := s.MaxConcurrentRuns
	if limit < 1 {
		limit = 1
	}
	if limit > MaxConcurrentRunsCeiling {
		limit = MaxConcurrentRunsCeiling
	}
	return limit
}

// EffectiveRetentionDays clamps the configured screenshot retention to
// [MinScreenshotRetentionDays, MaxScreenshotRetentionDays].
func (s AutomationSettings) EffectiveRetentionDays() int {
	days := s.ScreenshotRetention
	if days < MinScreenshotRetentionDays {
		days = MinScreenshotRetentionDays
	}
	if days > MaxScreenshotRetentionDays {
		days = MaxScreenshotRetentionDays
	}
	return days
}

// ResumeSnapshot is the minimal resume view shipped to the worker process.
type ResumeSnapshot struct {
	ID      uuid.UUID      `json:"id"`
	Title   string         `json:"title"`
	Content map[string]any `json:"content"`
}

// CoverLetterSnapshot is the minimal cover-letter view shipped to the worker.
type CoverLetterSnapshot struct {
	ID       uuid.UUID      `json:"id"`
	Company  string         `json:"company"`
	Position string         `json:"position"`
	Content  map[string]any `json:"content"`
	Template string         `json:"template"`
}
