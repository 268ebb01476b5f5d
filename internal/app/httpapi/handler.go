// Package httpapi exposes the engine to its collaborators over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/lifequest-app/progress-engine/internal/app"
	"github.com/lifequest-app/progress-engine/internal/app/errs"
	"github.com/lifequest-app/progress-engine/internal/app/services/engine"
)

// handler bundles HTTP endpoints for the engine services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Options configures the handler.
type Options struct {
	AuditLogPath string
	AuditLogMax  int
}

// NewHandler returns a mux exposing the engine REST API.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		return nil, err
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(opts.AuditLogMax, sink),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/actions", h.actions)
	mux.HandleFunc("/users/", h.userResources)
	mux.HandleFunc("/habits/", h.habitResources)
	mux.HandleFunc("/quests/instances/", h.questInstances)
	mux.HandleFunc("/rewards", h.rewards)
	mux.HandleFunc("/audit", h.auditEntries)
	return h.withAudit(mux), nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) actions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID         string    `json:"user_id"`
		Source         string    `json:"source"`
		ReferenceID    string    `json:"reference_id"`
		OccurredAt     time.Time `json:"occurred_at"`
		IdempotencyKey string    `json:"idempotency_key"`
		Points         int64     `json:"points"`
		XP             int64     `json:"xp"`
		Progress       int       `json:"progress"`
		Timezone       string    `json:"timezone"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Engine.RecordAction(r.Context(), engine.Action{
		UserID:         payload.UserID,
		Source:         payload.Source,
		ReferenceID:    payload.ReferenceID,
		OccurredAt:     payload.OccurredAt,
		IdempotencyKey: payload.IdempotencyKey,
		Points:         payload.Points,
		XP:             payload.XP,
		Progress:       payload.Progress,
		Timezone:       payload.Timezone,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]

	if len(parts) == 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "points":
		h.userPoints(w, r, userID, parts[2:])
	case "level":
		h.userLevel(w, r, userID)
	case "achievements":
		h.userAchievements(w, r, userID, parts[2:])
	case "quests":
		h.userQuests(w, r, userID)
	case "redemptions":
		h.userRedemptions(w, r, userID)
	case "recompute":
		h.userRecompute(w, r, userID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) userPoints(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if len(rest) > 0 && rest[0] == "history" {
		days := queryInt(r, "days", 0)
		limit := queryInt(r, "limit", 50)
		events, err := h.app.Engine.PointsHistory(r.Context(), userID, days, limit)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "events": events})
		return
	}

	total, err := h.app.Engine.TotalPoints(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "total": total})
}

func (h *handler) userLevel(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.app.Engine.LevelState(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"level":       view.Level,
		"xp":          view.XP,
		"required_xp": view.RequiredXP,
	})
}

func (h *handler) userAchievements(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 || rest[0] == "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		statuses, err := h.app.Achievements.List(r.Context(), userID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)

	case len(rest) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		progress, err := h.app.Engine.AchievementState(r.Context(), userID, rest[0])
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)

	case len(rest) == 2 && rest[1] == "progress":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Delta int64 `json:"delta"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		progress, completedNow, err := h.app.Engine.UpdateAchievement(r.Context(), userID, rest[0], payload.Delta)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"progress":      progress,
			"completed_now": completedNow,
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) userQuests(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		overview, err := h.app.Quests.ListForUser(r.Context(), userID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, overview)

	case http.MethodPost:
		var payload struct {
			QuestID    string `json:"quest_id"`
			CustomDays int    `json:"custom_days"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		inst, err := h.app.Quests.Accept(r.Context(), userID, payload.QuestID, payload.CustomDays, time.Now())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inst)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) userRedemptions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ItemID         string `json:"item_id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	redemption, err := h.app.Engine.Redeem(r.Context(), userID, payload.ItemID, payload.IdempotencyKey)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

func (h *handler) userRecompute(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	repair := r.URL.Query().Get("repair") == "true"
	report, err := h.app.Engine.RecomputeFromEvents(r.Context(), userID, repair)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) habitResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/habits"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	habitID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := h.app.Streaks.DeleteHabit(r.Context(), habitID); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if parts[1] != "streak" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	streak, err := h.app.Engine.Streak(r.Context(), habitID, time.Now(), r.URL.Query().Get("timezone"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"habit_id": habitID, "streak": streak})
}

func (h *handler) questInstances(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/quests/instances"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	instanceID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inst, err := h.app.Engine.QuestInstance(r.Context(), instanceID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inst)
		return
	}

	if parts[1] != "abandon" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	inst, err := h.app.Quests.Abandon(r.Context(), instanceID, time.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handler) rewards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := h.app.Engine.Catalog(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := queryInt(r, "limit", 0)
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// writeEngineError maps the error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errs.ErrAlreadyActive),
		errors.Is(err, errs.ErrAlreadyCompletedToday),
		errors.Is(err, errs.ErrInvalidState),
		errors.Is(err, errs.ErrOutOfStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, errs.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, errs.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, errs.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
