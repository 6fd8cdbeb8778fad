package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/autoapply/autoapply/internal/automation"
	"github.com/autoapply/autoapply/internal/db"
)

// ScheduleJobApplyRequest is a job application request plus its fire time.
type ScheduleJobApplyRequest struct {
	automation.JobApplyRequest
	RunAt string `json:"runAt"`
}

// RunStartedResponse is the response for run-starting endpoints.
type RunStartedResponse struct {
	RunID        string `json:"runId"`
	Status       string `json:"status"`
	ScheduledFor string `json:"scheduledFor,omitempty"`
}

// ListRunsResponse is the response for the run history endpoint.
type ListRunsResponse struct {
	Runs  []db.AutomationRun `json:"runs"`
	Count int                `json:"count"`
}

// handleJobApply starts a job application run
func (s *Server) handleJobApply(w http.ResponseWriter, r *http.Request) {
	var req automation.JobApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	s.applyAuthenticatedUser(r, &req)

	run, err := s.service.StartJobApply(r.Context(), &req)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, RunStartedResponse{
		RunID:  run.ID.String(),
		Status: run.Status,
	})
}

// handleScheduleJobApply creates a pending run fired at a future time
func (s *Server) handleScheduleJobApply(w http.ResponseWriter, r *http.Request) {
	var req ScheduleJobApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	s.applyAuthenticatedUser(r, &req.JobApplyRequest)

	if req.RunAt == "" {
		s.errorResponse(w, http.StatusBadRequest, "runAt is required")
		return
	}
	runAt, err := time.Parse(time.RFC3339, req.RunAt)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "runAt must be an RFC 3339 timestamp")
		return
	}

	run, err := s.service.ScheduleJobApply(r.Context(), &req.JobApplyRequest, runAt)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, RunStartedResponse{
		RunID:        run.ID.String(),
		Status:       run.Status,
		ScheduledFor: runAt.UTC().Format(time.RFC3339),
	})
}

// handleEmailResponse drafts a recruiter email reply synchronously
func (s *Server) handleEmailResponse(w http.ResponseWriter, r *http.Request) {
	var req automation.EmailResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := s.service.RunEmailResponse(r.Context(), &req)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

// handleListRuns returns recent run history
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns(r.Context(), r.URL.Query().Get("type"), r.URL.Query().Get("status"))
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// handleGetRun returns a single run by id
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !automation.ValidRunID(runID) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	run, err := s.service.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, run)
}

// applyAuthenticatedUser fills the request's user id from the bearer token.
// The token identity always wins over the body.
func (s *Server) applyAuthenticatedUser(r *http.Request, req *automation.JobApplyRequest) {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		req.UserID = userID.String()
	}
}
