package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/cohort/pkg/audit"
	"github.com/platinummonkey/cohort/pkg/httputil"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/realtime"
)

// publish handles POST /api/realtime/publish
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Type, "type") {
		return
	}
	if err := realtime.ValidateGroup(req.Group); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if s.publisher == nil {
		httputil.WriteServiceUnavailable(w, "Realtime broadcasting is not enabled.")
		return
	}

	ev := realtime.Event{Type: req.Type, Timestamp: time.Now().UTC()}
	if len(req.Data) > 0 {
		ev.Data = req.Data
	}

	// Publish failures are logged; delivery is best-effort.
	if err := s.publisher.Publish(r.Context(), req.Group, ev); err != nil {
		observability.FromContext(r.Context(), s.logger).WithError(err).
			WithField("group", req.Group).
			Warn("realtime publish failed")
	}

	s.recordAdminAction(r, audit.EventTypeAdminRealtimePublish, audit.ResourceTypeGroup, req.Group, req.Type)

	httputil.WriteJSONOrError(w, http.StatusAccepted, PublishResponse{Status: "accepted", Group: req.Group}, "failed to encode response")
}
