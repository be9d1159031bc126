package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/depfollow/internal/progress"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type eventDTO struct {
	RunID      string    `json:"run_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	Sequence   int64     `json:"sequence"`
	Package    string    `json:"package,omitempty"`
	Versions   int       `json:"versions,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// listEvents handles GET /v1/events?limit=&stage=. It returns
// {"events": [...]} newest first, 400 for invalid filters and 503 when no
// event buffer is wired.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event buffer unavailable")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stage, err := parseStage(r.URL.Query().Get("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events := s.events.Recent(limit, stage)
	out := make([]eventDTO, 0, len(events))
	for _, evt := range events {
		out = append(out, eventDTO{
			RunID:      evt.RunUUID().String(),
			TS:         evt.TS,
			Stage:      string(evt.Stage),
			Sequence:   evt.Sequence,
			Package:    evt.Package,
			Versions:   evt.Versions,
			DurationMs: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultEventLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit, nil
}

func parseStage(raw string) (progress.Stage, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	switch stage := progress.Stage(raw); stage {
	case progress.StageFollowStart,
		progress.StageFollowStop,
		progress.StageChangeProcessed,
		progress.StageChangeSkipped,
		progress.StageChangeFailed:
		return stage, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}
