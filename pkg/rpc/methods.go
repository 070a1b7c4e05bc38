package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/bksd/bksd/pkg/domain"
)

// DaemonInfo carries the static facts daemon.status reports alongside the
// live uptime/active-job counts.
type DaemonInfo struct {
	Version    string
	RPCBind    string
	Simulation bool
}

// Handler implements the five read-only methods of spec §4.7 against
// Persistence and the Progress Tracker. Every method takes a per-request
// deadline, applied by the caller before dispatch.
type Handler struct {
	persistence domain.Persistence
	progress    domain.ProgressTracker

	info      DaemonInfo
	startedAt time.Time
}

func NewHandler(persistence domain.Persistence, progress domain.ProgressTracker, info DaemonInfo) *Handler {
	return &Handler{
		persistence: persistence,
		progress:    progress,
		info:        info,
		startedAt:   time.Now(),
	}
}

// Dispatch resolves req.Method and returns the result value to be marshalled
// into a successful Response, or an error to be translated into a JSON-RPC
// Error object by the caller.
func (h *Handler) Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case "daemon.status":
		return h.daemonStatus(ctx)
	case "jobs.list":
		return h.jobsList(ctx, params)
	case "jobs.get":
		return h.jobsGet(ctx, params)
	case "progress.active":
		return h.progressActive(ctx)
	case "progress.get":
		return h.progressGet(ctx, params)
	default:
		return nil, &Error{Code: MethodNotFoundCode, Message: "method not found: " + method}
	}
}

type daemonStatusResult struct {
	Version     string `json:"version"`
	UptimeSecs  int64  `json:"uptime_secs"`
	ActiveJobs  int    `json:"active_jobs"`
	RPCBind     string `json:"rpc_bind"`
	Simulation  bool   `json:"simulation"`
}

func (h *Handler) daemonStatus(ctx context.Context) (interface{}, *Error) {
	return daemonStatusResult{
		Version:    h.info.Version,
		UptimeSecs: int64(time.Since(h.startedAt).Seconds()),
		ActiveJobs: len(h.progress.Active()),
		RPCBind:    h.info.RPCBind,
		Simulation: h.info.Simulation,
	}, nil
}

type jobsListParams struct {
	Limit  uint32  `json:"limit"`
	Offset uint32  `json:"offset"`
	Status *string `json:"status"`
}

func (h *Handler) jobsList(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	p := jobsListParams{Limit: 50, Offset: 0}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &Error{Code: InvalidParamsCode, Message: err.Error()}
		}
	}
	if p.Limit == 0 {
		p.Limit = 50
	}

	jobs, err := h.persistence.ListJobs(ctx, p.Limit, p.Offset, p.Status)
	if err != nil {
		return nil, &Error{Code: InternalErrorCode, Message: err.Error()}
	}

	return jobs, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (h *Handler) jobsGet(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, &Error{Code: InvalidParamsCode, Message: "missing required param \"id\""}
	}

	job, err := h.persistence.GetJob(ctx, p.ID)
	if err != nil {
		return nil, &Error{Code: ApplicationErrorCode, Message: errors.Wrapf(err, "job %s", p.ID).Error()}
	}

	return job, nil
}

type progressActiveResult struct {
	Jobs  map[string]domain.JobStatus `json:"jobs"`
	Count int                         `json:"count"`
}

func (h *Handler) progressActive(ctx context.Context) (interface{}, *Error) {
	active := h.progress.Active()
	return progressActiveResult{Jobs: active, Count: len(active)}, nil
}

func (h *Handler) progressGet(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, &Error{Code: InvalidParamsCode, Message: "missing required param \"id\""}
	}

	status, ok := h.progress.Get(p.ID)
	if !ok {
		return nil, &Error{Code: ApplicationErrorCode, Message: "unknown job id: " + p.ID}
	}

	return status, nil
}
