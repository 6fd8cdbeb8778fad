package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunTypeAndStatusPredicates(t *testing.T) {
	assert.True(t, IsRunType(RunTypeJobApply))
	assert.True(t, IsRunType(RunTypeScrape))
	assert.True(t, IsRunType(RunTypeEmail))
	assert.False(t, IsRunType("job-apply"))
	assert.False(t, IsRunType(""))

	assert.True(t, IsRunStatus(RunStatusPending))
	assert.True(t, IsRunStatus(RunStatusRunning))
	assert.True(t, IsRunStatus(RunStatusSuccess))
	assert.True(t, IsRunStatus(RunStatusError))
	assert.False(t, IsRunStatus("done"))

	assert.True(t, IsTerminalStatus(RunStatusSuccess))
	assert.True(t, IsTerminalStatus(RunStatusError))
	assert.False(t, IsTerminalStatus(RunStatusRunning))
	assert.False(t, IsTerminalStatus(RunStatusPending))
}

func TestDefaultAutomationSettings(t *testing.T) {
	settings := DefaultAutomationSettings()

	assert.True(t, settings.Headless)
	assert.Equal(t, 30, settings.DefaultTimeout)
	assert.Equal(t, 7, settings.ScreenshotRetention)
	assert.Equal(t, 1, settings.MaxConcurrentRuns)
	assert.Equal(t, "chrome", settings.DefaultBrowser)
	assert.True(t, settings.EnableSmartSelectors)
	assert.True(t, settings.AutoSaveScreenshots)
}

func TestEffectiveConcurrencyLimit_Clamps(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{3, 3},
		{MaxConcurrentRunsCeiling, MaxConcurrentRunsCeiling},
		{MaxConcurrentRunsCeiling + 1, MaxConcurrentRunsCeiling},
		{500, MaxConcurrentRunsCeiling},
	}

	for _, tt := range tests {
		settings := AutomationSettings{MaxConcurrentRuns: tt.configured}
		assert.Equal(t, tt.want, settings.EffectiveConcurrencyLimit(), "configured=%d", tt.configured)
	}
}

func TestEffectiveRetentionDays_Clamps(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{-1, MinScreenshotRetentionDays},
		{0, MinScreenshotRetentionDays},
		{7, 7},
		{MaxScreenshotRetentionDays, MaxScreenshotRetentionDays},
		{90, MaxScreenshotRetentionDays},
	}

	for _, tt := range tests {
		settings := AutomationSettings{ScreenshotRetention: tt.configured}
		assert.Equal(t, tt.want, settings.EffectiveRetentionDays(), "configured=%d", tt.configured)
	}
}

func TestConcurrencyLimitError_Message(t *testing.T) {
	err := &ConcurrencyLimitError{RunType: RunTypeJobApply, Active: 1, Limit: 1}
	assert.Equal(t, "concurrency limit reached for job_apply runs: 1 of 1 active", err.Error())
}

func TestRunNotFoundError_Message(t *testing.T) {
	err := &RunNotFoundError{RunID: "550e8400-e29b-41d4-a716-446655440000"}
	assert.Contains(t, err.Error(), "550e8400-e29b-41d4-a716-446655440000")
}
