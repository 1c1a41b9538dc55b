package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/cohort/pkg/audit"
	"github.com/platinummonkey/cohort/pkg/httputil"
	"github.com/platinummonkey/cohort/pkg/mapping"
	"github.com/platinummonkey/cohort/pkg/middleware"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/resolver"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// me handles GET /api/auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	account, _ := middleware.AccountFromContext(r.Context())
	out, _ := middleware.OutcomeFromContext(r.Context())

	resp := MeResponse{
		Account:  account,
		Mapping:  out.Mapping,
		Strategy: out.Strategy,
	}
	if out.Claims != nil {
		resp.External = &ExternalIdentity{
			SubjectID: out.Claims.SubjectID,
			Email:     out.Claims.Email,
			Role:      out.Claims.Role,
			ExpiresAt: out.Claims.ExpiresAt,
		}
	}

	// Local tokens carry no mapping; show the stored one if there is one.
	if resp.Mapping == nil && s.mappings != nil {
		m, err := s.mappings.FindByLocalAccount(r.Context(), account.ID)
		switch {
		case err == nil:
			resp.Mapping = m
		case !errors.Is(err, mapping.ErrNotFound):
			observability.FromContext(r.Context(), s.logger).WithError(err).Warn("failed to load identity mapping")
		}
	}

	httputil.WriteJSONOrError(w, http.StatusOK, resp, "failed to encode account")
}

// session handles GET /api/session
func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{}
	if account, ok := middleware.AccountFromContext(r.Context()); ok {
		resp.Authenticated = true
		resp.Account = account
	} else if out, ok := middleware.OutcomeFromContext(r.Context()); ok && out.State == resolver.Rejected {
		resp.Reason = string(out.Reason)
	}
	httputil.WriteJSONOrError(w, http.StatusOK, resp, "failed to encode session")
}

// listMappings handles GET /api/auth/mappings
func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		httputil.WriteBadRequest(w, "limit must be between 1 and 500")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		httputil.WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}

	list, err := s.mappings.List(r.Context(), limit, offset)
	if err != nil {
		observability.FromContext(r.Context(), s.logger).WithError(err).Error("failed to list identity mappings")
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*mapping.IdentityMapping{}
	}
	httputil.WriteJSONOrError(w, http.StatusOK, MappingListResponse{Mappings: list, Limit: limit, Offset: offset}, "failed to encode mappings")
}

// deactivateMapping handles POST /api/auth/mappings/{id}/deactivate
func (s *Server) deactivateMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	err := s.mappings.Deactivate(r.Context(), id)
	switch {
	case errors.Is(err, mapping.ErrNotFound):
		httputil.WriteNotFoundError(w, "Identity mapping not found.")
		return
	case err != nil:
		observability.FromContext(r.Context(), s.logger).WithError(err).Error("failed to deactivate identity mapping")
		httputil.WriteInternalError(w, err)
		return
	}

	observability.FromContext(r.Context(), s.logger).WithField("mapping_id", id).Info("identity mapping deactivated")
	s.recordAdminAction(r, audit.EventTypeAdminMappingDeactivate, audit.ResourceTypeMapping,
		strconv.FormatInt(id, 10), "identity mapping deactivated")
	w.WriteHeader(http.StatusNoContent)
}
