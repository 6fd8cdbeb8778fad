package automation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/autoapply/autoapply/internal/db"
	"github.com/autoapply/autoapply/internal/llm"
)

// XP awarded to a user for a successfully submitted application.
const applicationXP = 50

// JobApplyRequest is the payload accepted for a job application run.
type JobApplyRequest struct {
	JobURL        string         `json:"jobUrl" validate:"required"`
	ResumeID      string         `json:"resumeId" validate:"required"`
	CoverLetterID string         `json:"coverLetterId,omitempty"`
	JobID         string         `json:"jobId,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	CustomAnswers map[string]any `json:"customAnswers,omitempty"`
}

// EmailResponseRequest is the payload accepted for an email reply run.
type EmailResponseRequest struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=12000"`
	Sender  string `json:"sender,omitempty" validate:"omitempty,max=200"`
	Tone    string `json:"tone,omitempty" validate:"omitempty,oneof=professional friendly concise"`
}

// EmailResponseResult is the synchronous outcome of an email reply run.
type EmailResponseResult struct {
	RunID    uuid.UUID `json:"runId"`
	Status   string    `json:"status"`
	Reply    string    `json:"reply"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
}

var requestValidator = validator.New()

// runStore is the slice of the database the orchestrator needs.
type runStore interface {
	GetResumeSnapshot(ctx context.Context, resumeID uuid.UUID) (*db.ResumeSnapshot, error)
	GetCoverLetterSnapshot(ctx context.Context, coverLetterID uuid.UUID) (*db.CoverLetterSnapshot, error)
	GetAutomationSettings(ctx context.Context) (db.AutomationSettings, error)
	CreateRunAdmitted(ctx context.Context, input *db.RunInput, limit int) (*db.AutomationRun, error)
	CreatePendingRun(ctx context.Context, input *db.RunInput) (*db.AutomationRun, error)
	PromotePendingRun(ctx context.Context, runID uuid.UUID, limit int) error
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, progress, currentStep, totalSteps int) error
	CompleteRun(ctx context.Context, runID uuid.UUID, status string, output map[string]any, screenshots []string, errMsg *string) error
	GetRun(ctx context.Context, runID uuid.UUID) (*db.AutomationRun, error)
	ListRuns(ctx context.Context, filters db.RunFilters) ([]db.AutomationRun, error)
	AwardApplicationXP(ctx context.Context, userID uuid.UUID, points int) error
}

// Service orchestrates automation runs: validation, gated admission, worker
// invocation with live progress relay, artifact collection, and exactly-once
// finalization.
type Service struct {
	store     runStore
	runner    *Runner
	artifacts *ArtifactStore
	broker    *Broker
	tasks     *Tracker
	mapper    *FieldMapper
	llmClient llm.Client
}

// NewService wires the orchestrator from its collaborators. llmClient may be
// nil; selector hints and email replies are then unavailable.
func NewService(store *db.DB, runner *Runner, artifacts *ArtifactStore, broker *Broker, tasks *Tracker, llmClient llm.Client) *Service {
	return &Service{
		store:     store,
		runner:    runner,
		artifacts: artifacts,
		broker:    broker,
		tasks:     tasks,
		mapper:    NewFieldMapper(llmClient),
		llmClient: llmClient,
	}
}

// Broker exposes the subscription registry for the websocket layer.
func (s *Service) Broker() *Broker {
	return s.broker
}

// Artifacts exposes the artifact store for screenshot serving and sweeps.
func (s *Service) Artifacts() *ArtifactStore {
	return s.artifacts
}

// jobApplyPlan is a normalized, dependency-checked job application request.
type jobApplyPlan struct {
	jobURL        string
	resume        *db.ResumeSnapshot
	coverLetter   *db.CoverLetterSnapshot
	customAnswers map[string]string
	jobID         *string
	userID        *uuid.UUID
	input         map[string]any
}

// normalizeJobApply validates the request and loads its dependencies. No run
// row exists yet when this fails, so rejected requests leave nothing behind.
func (s *Service) normalizeJobApply(ctx context.Context, req *JobApplyRequest) (*jobApplyPlan, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	jobURL, err := SanitizeJobURL(req.JobURL)
	if err != nil {
		return nil, err
	}
	customAnswers, err := SanitizeCustomAnswers(req.CustomAnswers)
	if err != nil {
		return nil, err
	}

	resumeID := strings.TrimSpace(req.ResumeID)
	if resumeID == "" {
		return nil, &ValidationError{Field: "resumeId", Message: "is required"}
	}
	resumeUUID, err := uuid.Parse(resumeID)
	if err != nil {
		return nil, &ValidationError{Field: "resumeId", Message: "must be a valid id"}
	}
	resume, err := s.store.GetResumeSnapshot(ctx, resumeUUID)
	if err != nil {
		return nil, err
	}
	if resume == nil {
		return nil, &DependencyMissingError{Kind: "resume", ID: resumeID}
	}

	plan := &jobApplyPlan{
		jobURL:        jobURL,
		resume:        resume,
		customAnswers: customAnswers,
	}

	if coverLetterID := strings.TrimSpace(req.CoverLetterID); coverLetterID != "" {
		coverLetterUUID, err := uuid.Parse(coverLetterID)
		if err != nil {
			return nil, &ValidationError{Field: "coverLetterId", Message: "must be a valid id"}
		}
		coverLetter, err := s.store.GetCoverLetterSnapshot(ctx, coverLetterUUID)
		if err != nil {
			return nil, err
		}
		if coverLetter == nil {
			return nil, &DependencyMissingError{Kind: "cover letter", ID: coverLetterID}
		}
		plan.coverLetter = coverLetter
	}

	if jobID := strings.TrimSpace(req.JobID); jobID != "" {
		plan.jobID = &jobID
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		userUUID, err := uuid.Parse(userID)
		if err != nil {
			return nil, &ValidationError{Field: "userId", Message: "must be a valid id"}
		}
		plan.userID = &userUUID
	}

	// Audit copy of the normalized request; never re-validated at read time.
	plan.input = map[string]any{
		"jobUrl":   jobURL,
		"resumeId": resumeID,
	}
	if plan.coverLetter != nil {
		plan.input["coverLetterId"] = plan.coverLetter.ID.String()
	}
	if plan.jobID != nil {
		plan.input["jobId"] = *plan.jobID
	}
	if len(customAnswers) > 0 {
		answers := make(map[string]any, len(customAnswers))
		for k, v := range customAnswers {
			answers[k] = v
		}
		plan.input["customAnswers"] = answers
	}

	return plan, nil
}

// StartJobApply validates and admits a job application run, then executes it
// on a supervised background task. The returned run is already persisted
// with status running; callers observe the outcome through the run record
// and the event stream, not through this call.
func (s *Service) StartJobApply(ctx context.Context, req *JobApplyRequest) (*db.AutomationRun, error) {
	plan, err := s.normalizeJobApply(ctx, req)
	if err != nil {
		return nil, err
	}

	settings, err := s.store.GetAutomationSettings(ctx)
	if err != nil {
		return nil, err
	}

	run, err := s.store.CreateRunAdmitted(ctx, &db.RunInput{
		RunType: db.RunTypeJobApply,
		JobID:   plan.jobID,
		UserID:  plan.userID,
		Input:   plan.input,
	}, settings.EffectiveConcurrencyLimit())
	if err != nil {
		return nil, err
	}

	s.tasks.Go("job-apply "+run.ID.String(), func() error {
		return s.executeJobApply(context.Background(), run.ID, plan, settings)
	})

	return run, nil
}

// ScheduleJobApply validates a job application request now and creates a
// pending run that is promoted through the concurrency gate at runAt.
func (s *Service) ScheduleJobApply(ctx context.Context, req *JobApplyRequest, runAt time.Time) (*db.AutomationRun, error) {
	delay := time.Until(runAt)
	if delay <= 0 {
		return nil, &ValidationError{Field: "runAt", Message: "must be in the future"}
	}

	plan, err := s.normalizeJobApply(ctx, req)
	if err != nil {
		return nil, err
	}
	plan.input["scheduledFor"] = runAt.UTC().Format(time.RFC3339)

	run, err := s.store.CreatePendingRun(ctx, &db.RunInput{
		RunType: db.RunTypeJobApply,
		JobID:   plan.jobID,
		UserID:  plan.userID,
		Input:   plan.input,
	})
	if err != nil {
		return nil, err
	}

	time.AfterFunc(delay, func() {
		s.tasks.Go("scheduled job-apply "+run.ID.String(), func() error {
			return s.fireScheduledRun(context.Background(), run.ID, plan)
		})
	})

	return run, nil
}

// fireScheduledRun promotes a pending run through the gate and executes it.
// A full gate at fire time finalizes the run as error: there is no retry
// queue and every admitted row must reach a terminal state.
func (s *Service) fireScheduledRun(ctx context.Context, runID uuid.UUID, plan *jobApplyPlan) error {
	settings, err := s.store.GetAutomationSettings(ctx)
	if err != nil {
		return err
	}

	if err := s.store.PromotePendingRun(ctx, runID, settings.EffectiveConcurrencyLimit()); err != nil {
		message := fmt.Sprintf("scheduled run could not start: %v", err)
		s.finalizeRun(ctx, runID, plan.userID, db.RunStatusError, synthesizedFailureOutput(message), nil, &message)
		return err
	}

	return s.executeJobApply(ctx, runID, plan, settings)
}

// executeJobApply drives one admitted run to a terminal state. Worker and
// protocol failures are converted into an error-status run record, never
// re-thrown past the run boundary. A panic is finalized the same way so an
// admitted row cannot stay running forever.
func (s *Service) executeJobApply(ctx context.Context, runID uuid.UUID, plan *jobApplyPlan, settings db.AutomationSettings) (err error) {
	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("run panicked: %v", r)
			s.finalizeRun(ctx, runID, plan.userID, db.RunStatusError, synthesizedFailureOutput(message), nil, &message)
			err = fmt.Errorf("job application run panicked: %v", r)
		}
	}()

	var selectorMap map[string][]string
	if settings.EnableSmartSelectors {
		selectorMap = s.mapper.Analyze(ctx, plan.jobURL, DefaultFormFields)
	}

	request := &WorkerRequest{
		JobURL:        plan.jobURL,
		Resume:        plan.resume,
		CoverLetter:   plan.coverLetter,
		CustomAnswers: plan.customAnswers,
		SelectorMap:   selectorMap,
		Settings:      settings,
	}

	result, err := s.runner.Run(ctx, JobApplyScript, request, func(event ProgressEvent) {
		s.relayProgress(ctx, runID, event)
	})
	if err != nil {
		message := err.Error()
		s.finalizeRun(ctx, runID, plan.userID, db.RunStatusError, synthesizedFailureOutput(message), nil, &message)
		return err
	}

	var managed []string
	if settings.AutoSaveScreenshots {
		managed, err = s.artifacts.Collect(runID.String(), result.Screenshots)
		if err != nil {
			log.Printf("[automation] run %s: screenshot collection failed: %v", runID, err)
			managed = nil
		}
	}

	status := db.RunStatusSuccess
	if !result.Success {
		status = db.RunStatusError
	}
	s.finalizeRun(ctx, runID, plan.userID, status, workerOutput(result, managed), managed, result.Error)

	if !result.Success {
		if result.Error != nil {
			return fmt.Errorf("job application run failed: %s", *result.Error)
		}
		return fmt.Errorf("job application run failed")
	}
	return nil
}

// relayProgress persists the in-flight projection and fans the event out to
// live subscribers, preserving worker emission order within the run.
func (s *Service) relayProgress(ctx context.Context, runID uuid.UUID, event ProgressEvent) {
	// Narrative events carry no step numbers; persisting them would reset
	// the stored percentage to zero.
	if event.Step != nil || event.TotalSteps != nil {
		progress := 0
		step := 0
		total := 0
		if event.Step != nil {
			step = *event.Step
		}
		if event.TotalSteps != nil {
			total = *event.TotalSteps
		}
		if total > 0 {
			if step > total {
				step = total
			}
			progress = step * 100 / total
		}

		if err := s.store.UpdateRunProgress(ctx, runID, progress, step, total); err != nil {
			log.Printf("[automation] run %s: progress update failed: %v", runID, err)
		}
	}

	s.broker.Publish(runID.String(), Event{
		Type:       EventTypeProgress,
		Step:       event.Step,
		TotalSteps: event.TotalSteps,
		Status:     event.Status,
		Action:     event.Action,
		Message:    event.Message,
	})
}

// finalizeRun writes the terminal record, notifies subscribers, and fires
// the best-effort side effects. Side effect failures never surface.
func (s *Service) finalizeRun(ctx context.Context, runID uuid.UUID, userID *uuid.UUID, status string, output map[string]any, screenshots []string, errMsg *string) {
	if err := s.store.CompleteRun(ctx, runID, status, output, screenshots, errMsg); err != nil {
		log.Printf("[automation] run %s: finalization failed: %v", runID, err)
	}

	s.broker.Publish(runID.String(), Event{Type: EventTypeComplete, Status: status})

	NonCritical("retention sweep", func() error {
		_, err := s.artifacts.Sweep(ctx)
		return err
	})

	if status == db.RunStatusSuccess && userID != nil {
		NonCritical("application reward", func() error {
			return s.store.AwardApplicationXP(ctx, *userID, applicationXP)
		})
	}
}

// workerOutput is the sanitized run output: the worker's result with source
// paths replaced by managed artifact names.
func workerOutput(result *WorkerResult, managed []string) map[string]any {
	steps := make([]any, 0, len(result.Steps))
	for _, step := range result.Steps {
		entry := map[string]any{"action": step.Action, "status": step.Status}
		if step.Message != "" {
			entry["message"] = step.Message
		}
		steps = append(steps, entry)
	}

	screenshots := make([]any, 0, len(managed))
	for _, name := range managed {
		screenshots = append(screenshots, name)
	}

	output := map[string]any{
		"success":     result.Success,
		"screenshots": screenshots,
		"steps":       steps,
	}
	if result.Error != nil {
		output["error"] = *result.Error
	}
	return output
}

// synthesizedFailureOutput describes an unexpected fault as a single failed
// step so even crashed runs have an auditable output shape.
func synthesizedFailureOutput(message string) map[string]any {
	return map[string]any{
		"success":     false,
		"error":       message,
		"screenshots": []any{},
		"steps": []any{
			map[string]any{"action": "execute", "status": "error", "message": message},
		},
	}
}

// RunEmailResponse drafts a reply to a recruiter email and records it as a
// terminal email run. Unlike job applications this is synchronous: the reply
// is the response payload.
func (s *Service) RunEmailResponse(ctx context.Context, req *EmailResponseRequest) (*EmailResponseResult, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	if s.llmClient == nil {
		return nil, fmt.Errorf("no AI provider configured for email responses")
	}

	tone := req.Tone
	if tone == "" {
		tone = "professional"
	}

	input := map[string]any{"subject": req.Subject, "tone": tone}
	if req.Sender != "" {
		input["sender"] = req.Sender
	}
	run, err := s.store.CreatePendingRun(ctx, &db.RunInput{
		RunType: db.RunTypeEmail,
		Input:   input,
	})
	if err != nil {
		return nil, err
	}

	reply, err := s.llmClient.GenerateContent(ctx, emailReplyPrompt(req, tone), llm.TierStandard)
	if err != nil {
		message := fmt.Sprintf("email reply generation failed: %v", err)
		s.finalizeRun(ctx, run.ID, nil, db.RunStatusError, synthesizedFailureOutput(message), nil, &message)
		return nil, fmt.Errorf("failed to generate email reply: %w", err)
	}

	model := s.llmClient.GetModel(llm.TierStandard)
	provider := s.llmClient.Provider()
	output := map[string]any{
		"success":     true,
		"screenshots": []any{},
		"steps": []any{
			map[string]any{"action": "draft_reply", "status": "ok"},
		},
		"reply":    reply,
		"provider": provider,
		"model":    model,
	}
	s.finalizeRun(ctx, run.ID, nil, db.RunStatusSuccess, output, nil, nil)

	return &EmailResponseResult{
		RunID:    run.ID,
		Status:   db.RunStatusSuccess,
		Reply:    reply,
		Provider: provider,
		Model:    model,
	}, nil
}

func emailReplyPrompt(req *EmailResponseRequest, tone string) string {
	var sb strings.Builder
	sb.WriteString("Draft a ")
	sb.WriteString(tone)
	sb.WriteString(" reply to the following recruiter email. Respond with the reply text only.\n\n")
	if req.Sender != "" {
		sb.WriteString("From: " + req.Sender + "\n")
	}
	sb.WriteString("Subject: " + req.Subject + "\n\n")
	sb.WriteString(req.Message)
	return sb.String()
}

// GetRun loads a run by its string id, failing closed on malformed ids.
func (s *Service) GetRun(ctx context.Context, runID string) (*db.AutomationRun, error) {
	if !ValidRunID(runID) {
		return nil, &ValidationError{Field: "runId", Message: "invalid run id format"}
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, &ValidationError{Field: "runId", Message: "invalid run id format"}
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &db.RunNotFoundError{RunID: runID}
	}
	return run, nil
}

// ListRuns returns recent run history with optional type/status filters.
func (s *Service) ListRuns(ctx context.Context, runType, status string) ([]db.AutomationRun, error) {
	if runType != "" && !db.IsRunType(runType) {
		return nil, &ValidationError{Field: "type", Message: "unknown run type"}
	}
	if status != "" && !db.IsRunStatus(status) {
		return nil, &ValidationError{Field: "status", Message: "unknown run status"}
	}
	return s.store.ListRuns(ctx, db.RunFilters{RunType: runType, Status: status})
}
