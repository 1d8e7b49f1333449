package cron

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/orbitlink/billing-service/internal/domain/ports"
)

// BillingHandler exposes the scheduled billing jobs over HTTP so an
// external scheduler (Cloud Scheduler, systemd timer, curl) can trigger
// them alongside the in-process cron
type BillingHandler struct {
	billingService ports.BillingService
	logger         *zap.Logger
	cronSecret     string
}

// NewBillingHandler creates a new billing cron handler
func NewBillingHandler(billingService ports.BillingService, logger *zap.Logger, cronSecret string) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		logger:         logger,
		cronSecret:     cronSecret,
	}
}

// RunPrebill handles POST /cron/prebill
func (h *BillingHandler) RunPrebill(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Prebill cron job triggered",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.billingService.RunPrebill(r.Context())
	if err != nil {
		h.logger.Error("Prebill run failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, statusFor(result.Failed), map[string]interface{}{
		"success":      result.Failed == 0,
		"result":       result,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// RunCutoff handles POST /cron/cutoff
func (h *BillingHandler) RunCutoff(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Cutoff cron job triggered",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.billingService.RunCutoff(r.Context())
	if err != nil {
		h.logger.Error("Cutoff run failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, statusFor(result.Failed), map[string]interface{}{
		"success":      result.Failed == 0,
		"result":       result,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheck handles GET /cron/health for monitoring
func (h *BillingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// authenticateRequest verifies the cron request is authorized
func (h *BillingHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if r.Header.Get("X-Cron-Secret") == h.cronSecret {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.cronSecret
}

func statusFor(failed int) int {
	if failed > 0 {
		// 206 indicates partial success
		return http.StatusPartialContent
	}
	return http.StatusOK
}

func (h *BillingHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *BillingHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
