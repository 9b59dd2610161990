package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name": "nezuko-core",
		"endpoints": map[string]string{
			"health":  "/healthz",
			"ready":   "/readyz",
			"live":    "/livez",
			"webhook": "/webhook/{bot_id}",
		},
	})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "uptime": s.Uptime().String()})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleReady handles GET /readyz (Kubernetes readiness probe).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": status.Message})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /livez (Kubernetes liveness probe).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// handleWebhook handles POST /webhook/{bot_id}: validates the secret
// token Telegram echoes back (set via setWebhook's secret_token param),
// decodes the body directly into a tgbotapi.Update, and dispatches it
// to that bot instance's registered worker (spec §6 webhook mode).
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.config.WebhookSecret != "" {
		if r.Header.Get(s.config.WebhookSecretHeader) != s.config.WebhookSecret {
			s.logger.Warn("rejected webhook with invalid secret token", "ip", getClientIP(r))
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
			return
		}
	}

	botInstanceID, err := strconv.ParseInt(r.PathValue("bot_id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "bot_id must be numeric")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.logger.Error("failed to read webhook body", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	if err := s.deps.Webhooks.Dispatch(r.Context(), botInstanceID, update); err != nil {
		s.logger.Error("failed to dispatch webhook update", "bot_instance_id", botInstanceID, "error", err)
		// Still acknowledge 200 so Telegram does not retry indefinitely.
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
