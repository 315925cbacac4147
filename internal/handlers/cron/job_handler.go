// Package cron exposes the scheduler jobs as secret-protected HTTP endpoints
// for external schedulers.
package cron

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/handlers/response"
	"github.com/kevin07696/subscription-service/internal/services/ports"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"go.uber.org/zap"
)

// SecretHeader authenticates cron requests
const SecretHeader = "X-Cron-Secret"

// JobHandler triggers RenewalScheduler jobs
type JobHandler struct {
	scheduler  ports.RenewalScheduler
	timeouts   *resilience.TimeoutConfig
	logger     *zap.Logger
	now        func() time.Time
	cronSecret string
}

// NewJobHandler creates a new cron job handler
func NewJobHandler(scheduler ports.RenewalScheduler, timeouts *resilience.TimeoutConfig, logger *zap.Logger, cronSecret string) *JobHandler {
	return &JobHandler{
		scheduler:  scheduler,
		timeouts:   timeouts,
		logger:     logger,
		now:        time.Now,
		cronSecret: cronSecret,
	}
}

// Routes mounts under /cron
func (h *JobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/renewals", h.run(ports.JobRenewals, h.scheduler.RunRenewals))
		r.Post("/reminders", h.run(ports.JobReminders, h.scheduler.RunReminders))
		r.Post("/grace-expiry", h.run(ports.JobGraceExpiry, h.scheduler.RunGraceExpiry))
		r.Post("/rollover", h.run(ports.JobRollover, h.scheduler.RunRollover))
		r.Post("/run-all", h.RunAll)
	})
	return r
}

// JobResponse reports one job run
type JobResponse struct {
	Job          string   `json:"job"`
	Errors       []string `json:"errors,omitempty"`
	Processed    int      `json:"processed"`
	SuccessCount int      `json:"success_count"`
	SkippedCount int      `json:"skipped_count"`
	FailureCount int      `json:"failure_count"`
	Success      bool     `json:"success"`
}

// RunResponse is the body of every job endpoint
type RunResponse struct {
	ProcessedAt string        `json:"processed_at"`
	Jobs        []JobResponse `json:"jobs"`
	Success     bool          `json:"success"`
}

func toJobResponse(res ports.JobResult) JobResponse {
	out := JobResponse{
		Job:          res.Job,
		Processed:    res.Processed,
		SuccessCount: res.Succeeded,
		SkippedCount: res.Skipped,
		FailureCount: res.Failed,
		Success:      len(res.Errors) == 0,
	}
	for _, err := range res.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

func (h *JobHandler) run(job string, fn func(ctx context.Context) ports.JobResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.logger.Info("Cron job triggered",
			zap.String("job", job),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		ctx, cancel := h.timeouts.CronContext(r.Context())
		defer cancel()

		h.respond(w, []ports.JobResult{fn(ctx)})
	}
}

// RunAll handles POST /cron/run-all
func (h *JobHandler) RunAll(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Cron run-all triggered", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := h.timeouts.CronContext(r.Context())
	defer cancel()

	h.respond(w, h.scheduler.RunAll(ctx))
}

// respond answers 206 when any job reported errors. Declined renewals are
// counted as failures but are not errors.
func (h *JobHandler) respond(w http.ResponseWriter, results []ports.JobResult) {
	resp := RunResponse{
		ProcessedAt: h.now().UTC().Format(time.RFC3339),
		Jobs:        make([]JobResponse, 0, len(results)),
		Success:     true,
	}
	for _, res := range results {
		jr := toJobResponse(res)
		resp.Success = resp.Success && jr.Success
		resp.Jobs = append(resp.Jobs, jr)

		h.logger.Info("Cron job completed",
			zap.String("job", res.Job),
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
			zap.Int("errors", len(res.Errors)),
		)
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusPartialContent
	}
	response.JSON(w, status, resp, h.logger)
}

// authenticate accepts the shared secret in X-Cron-Secret or as a bearer token
func (h *JobHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
			response.Message(w, http.StatusUnauthorized, domain.ErrorCodePermissionDenied, "unauthorized", h.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *JobHandler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secretEqual(r.Header.Get(SecretHeader), h.cronSecret) {
		return true
	}
	return secretEqual(r.Header.Get("Authorization"), "Bearer "+h.cronSecret)
}

func secretEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// HealthCheck handles GET /cron/health
func (h *JobHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	}, h.logger)
}
