package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bksd/bksd/pkg/appcontext"
	"github.com/bksd/bksd/pkg/domain"
)

// HealthRepository is the slice of domain.Persistence the health handler
// needs: enough to report whether the job log is reachable and what its
// most recent activity looks like.
type HealthRepository interface {
	ListJobs(ctx context.Context, limit, offset uint32, statusFilter *string) ([]domain.Job, error)
}

type HealthHandler struct {
	logger    logrus.FieldLogger
	repo      HealthRepository
	progress  domain.ProgressTracker
	startedAt time.Time
}

func NewHealthHandler(logger logrus.FieldLogger, repo HealthRepository, progress domain.ProgressTracker) *HealthHandler {
	return &HealthHandler{
		logger:    logger,
		repo:      repo,
		progress:  progress,
		startedAt: time.Now(),
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	UptimeMillis int64  `json:"uptime_ms"`
	ActiveJobs   int    `json:"active_jobs"`
	RecentJobs   int    `json:"recent_jobs"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logger := appcontext.LoggerFromContext(h.logger, ctx)

	jobs, err := h.repo.ListJobs(ctx, 20, 0, nil)
	status := "ok"
	if err != nil {
		logger.WithError(err).Error("unable to query recent jobs")
		status = "degraded"
	}

	resp := healthResponse{
		Status:       status,
		UptimeMillis: time.Since(h.startedAt).Milliseconds(),
		ActiveJobs:   len(h.progress.Active()),
		RecentJobs:   len(jobs),
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(resp); err != nil {
		logger.WithError(err).Error("unable to encode response")
	}
}
