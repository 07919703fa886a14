package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rest")

// maxBodyBytes bounds the size of a request body
const maxBodyBytes = 64 * 1024

// Handler handles HTTP requests of the lock API
type Handler struct {
	mgr     lease.ILockManager
	metrics *lease.Metrics
}

// NewHandler creates a new API handler for mgr.
// metrics may be nil, then /metrics only reports the process metrics.
func NewHandler(mgr lease.ILockManager, metrics *lease.Metrics) *Handler {
	return &Handler{
		mgr:     mgr,
		metrics: metrics,
	}
}

// --------------------------------------------------------------------------
// Request / Response types
// --------------------------------------------------------------------------

// AcquireLockRequest is the body of POST /locks/{type}/{id}
type AcquireLockRequest struct {
	OwnerID         string  `json:"owner_id"`
	OwnerDisplay    string  `json:"owner_display,omitempty"`
	Mode            string  `json:"mode,omitempty"`             // write (default) or read
	DurationMinutes float64 `json:"duration_minutes,omitempty"` // 0 = server default
}

// LockResponse describes a lease
type LockResponse struct {
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	OwnerID      string    `json:"owner_id"`
	OwnerDisplay string    `json:"owner_display"`
	Mode         string    `json:"mode"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LockHolder is what a conflicting caller learns about the current holder
type LockHolder struct {
	OwnerDisplay string    `json:"owner_display"`
	Mode         string    `json:"mode"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LockStatusResponse is the response of GET /locks/{type}/{id}
type LockStatusResponse struct {
	Locked bool          `json:"locked"`
	Lock   *LockResponse `json:"lock,omitempty"`
}

// AcquireLockResponse is the response of POST /locks/{type}/{id}
type AcquireLockResponse struct {
	Result string        `json:"result"`
	Lock   *LockResponse `json:"lock,omitempty"`
	Holder *LockHolder   `json:"holder,omitempty"` // set on conflict
}

// ReleaseLockResponse is the response of DELETE /locks/{type}/{id}
type ReleaseLockResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// CountResponse is the response of bulk deletes
type CountResponse struct {
	Count int `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toLockResponse(rec db.Record) *LockResponse {
	return &LockResponse{
		ResourceType: string(rec.Key.ResourceType),
		ResourceID:   rec.Key.ResourceID,
		OwnerID:      rec.OwnerID,
		OwnerDisplay: rec.OwnerDisplay,
		Mode:         rec.Mode.String(),
		AcquiredAt:   rec.AcquiredAt,
		ExpiresAt:    rec.ExpiresAt,
	}
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func pathKey(r *http.Request) db.Key {
	return db.NewKey(db.ResourceType(r.PathValue("type")), r.PathValue("id"))
}

// CheckLock handles GET /locks/{type}/{id}
func (h *Handler) CheckLock(w http.ResponseWriter, r *http.Request) {
	status, err := h.mgr.CheckLock(r.Context(), pathKey(r))
	if err != nil {
		h.respondLeaseError(w, err)
		return
	}

	resp := LockStatusResponse{Locked: status.Locked}
	if status.Locked {
		resp.Lock = toLockResponse(status.Record)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// AcquireLock handles POST /locks/{type}/{id}
func (h *Handler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	var req AcquireLockRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	mode, err := db.ParseMode(req.Mode)
	if err != nil {
		h.respondLeaseError(w, fmt.Errorf("%w: %v", lease.ErrInvalidMode, err))
		return
	}
	if req.DurationMinutes < 0 || math.IsNaN(req.DurationMinutes) || math.IsInf(req.DurationMinutes, 0) {
		h.respondError(w, http.StatusBadRequest, "duration_minutes must not be negative", nil)
		return
	}

	res, err := h.mgr.AcquireLock(r.Context(), lease.AcquireRequest{
		Key:          pathKey(r),
		OwnerID:      req.OwnerID,
		OwnerDisplay: req.OwnerDisplay,
		Mode:         mode,
		Duration:     minutesToDuration(req.DurationMinutes),
	})
	if err != nil {
		h.respondLeaseError(w, err)
		return
	}

	resp := AcquireLockResponse{Result: res.Code.String()}
	switch res.Code {
	case lease.AcquireConflict:
		resp.Holder = &LockHolder{
			OwnerDisplay: res.Record.OwnerDisplay,
			Mode:         res.Record.Mode.String(),
			ExpiresAt:    res.Record.ExpiresAt,
		}
		h.respondJSON(w, http.StatusConflict, resp)
	case lease.AcquireRefreshed:
		resp.Lock = toLockResponse(res.Record)
		h.respondJSON(w, http.StatusOK, resp)
	default:
		resp.Lock = toLockResponse(res.Record)
		h.respondJSON(w, http.StatusCreated, resp)
	}
}

// ReleaseLock handles DELETE /locks/{type}/{id}?owner_id=... and DELETE /locks/{type}/{id}?force=true
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	force := false
	if v := query.Get("force"); v != "" {
		var err error
		if force, err = strconv.ParseBool(v); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid force parameter", err)
			return
		}
	}

	var (
		res lease.ReleaseResult
		err error
	)
	if force {
		res, err = h.mgr.ForceRelease(r.Context(), pathKey(r))
		if err == nil && res.Success {
			log.Infof("force released %s (requested by %s)", pathKey(r), r.RemoteAddr)
		}
	} else {
		res, err = h.mgr.ReleaseLock(r.Context(), pathKey(r), query.Get("owner_id"))
	}
	if err != nil {
		h.respondLeaseError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, ReleaseLockResponse{Success: res.Success, Reason: res.Reason.String()})
}

// ReleaseAllForOwner handles DELETE /owners/{owner}/locks
func (h *Handler) ReleaseAllForOwner(w http.ResponseWriter, r *http.Request) {
	n, err := h.mgr.ReleaseAllForOwner(r.Context(), r.PathValue("owner"))
	if err != nil {
		h.respondLeaseError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// SweepExpired handles POST /sweep
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.mgr.SweepExpired(r.Context())
	if err != nil {
		h.respondLeaseError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// respondLeaseError maps lock manager errors onto status codes
func (h *Handler) respondLeaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lease.ErrInvalidKey),
		errors.Is(err, lease.ErrInvalidOwner),
		errors.Is(err, lease.ErrInvalidMode):
		h.respondError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, lease.ErrContention):
		w.Header().Set("Retry-After", "1")
		h.respondError(w, http.StatusServiceUnavailable, "Lock contention, retry", err)
	case errors.Is(err, lease.ErrStoreUnavailable):
		log.Warningf("lock store unavailable: %v", err)
		h.respondError(w, http.StatusServiceUnavailable, "Lock store unavailable", err)
	default:
		log.Errorf("internal error: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	h.respondJSON(w, status, resp)
}

// minutesToDuration converts a non-negative number of minutes, saturating at the
// largest duration instead of overflowing. The manager caps it at its max duration.
func minutesToDuration(minutes float64) time.Duration {
	ns := minutes * float64(time.Minute)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
