package server

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autoapply/autoapply/internal/automation"
	"github.com/autoapply/autoapply/internal/db"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &automation.ValidationError{Field: "jobUrl", Message: "is required"}, http.StatusUnprocessableEntity},
		{"dependency missing", &automation.DependencyMissingError{Kind: "resume", ID: "abc"}, http.StatusNotFound},
		{"concurrency limit", &db.ConcurrencyLimitError{RunType: "job_apply", Active: 1, Limit: 1}, http.StatusConflict},
		{"run not found", &db.RunNotFoundError{RunID: "abc"}, http.StatusNotFound},
		{"protocol", &automation.ProtocolError{Message: "worker exited"}, http.StatusInternalServerError},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
