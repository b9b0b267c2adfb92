package vortex

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vortexhq/vortex/pkg/httputil"
	"github.com/vortexhq/vortex/pkg/observability"
	"github.com/vortexhq/vortex/pkg/roles"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handlers exposes the moderation service over HTTP.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the moderation HTTP handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger.Named("vortex.http")}
}

// RegisterRoutes mounts every moderation endpoint under /vortex.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	r := router.PathPrefix("/vortex").Subrouter()

	r.HandleFunc("/has-permission", h.HasPermission).Methods("POST")
	r.HandleFunc("/create-violation", h.CreateViolation).Methods("POST")
	r.HandleFunc("/list-violations", h.ListViolations).Methods("GET")
	r.HandleFunc("/update-violation", h.UpdateViolation).Methods("POST")
	r.HandleFunc("/my-violations", h.MyViolations).Methods("GET")
	r.HandleFunc("/dispute-violation", h.DisputeViolation).Methods("POST")
	r.HandleFunc("/list-disputes", h.ListDisputes).Methods("GET")
	r.HandleFunc("/resolve-dispute", h.ResolveDispute).Methods("POST")
	r.HandleFunc("/my-disputes", h.MyDisputes).Methods("GET")
	r.HandleFunc("/effective-permissions", h.EffectivePermissions).Methods("GET")
	r.HandleFunc("/refresh-roles", h.RefreshRoles).Methods("POST")
	r.HandleFunc("/rebuild-roles", h.RebuildRoles).Methods("POST")
	r.HandleFunc("/version", h.RolesVersion).Methods("GET")
}

// writeError maps the moderation error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	verr := toError(h.logger, "handler", err)
	switch verr.Kind {
	case KindUnauthorized:
		httputil.WriteUnauthorized(w, verr.Message)
	case KindForbidden:
		httputil.WriteForbidden(w, verr.Message)
	case KindBadRequest:
		httputil.WriteBadRequest(w, verr.Message)
	case KindNotFound:
		httputil.WriteNotFound(w, verr.Message)
	case KindConflict:
		httputil.WriteConflict(w, verr.Message)
	default:
		httputil.WriteInternalError(w, verr.Message)
	}
}

// HasPermission evaluates a permission request for the caller or an
// explicitly named user or role.
func (h *Handlers) HasPermission(w http.ResponseWriter, r *http.Request) {
	var req roles.PermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	allowed, err := h.service.HasPermission(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"error":   nil,
		"success": allowed,
	})
}

func (h *Handlers) CreateViolation(w http.ResponseWriter, r *http.Request) {
	var in CreateViolationInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	v, err := h.service.CreateViolation(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, v)
}

func (h *Handlers) ListViolations(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	overturned, err := httputil.ParseQueryBool(r, "overturned")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := ViolationFilter{
		UserID:        httputil.ParseQueryString(r, "userId", ""),
		ModeratorID:   httputil.ParseQueryString(r, "moderatorId", ""),
		Overturned:    overturned,
		SortBy:        httputil.ParseQueryString(r, "sortBy", "created_at"),
		SortDirection: httputil.ParseQueryString(r, "sortDirection", "desc"),
		Limit:         page.Limit,
		Offset:        page.Offset,
	}

	result, err := h.service.ListViolations(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) UpdateViolation(w http.ResponseWriter, r *http.Request) {
	var in UpdateViolationInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	v, err := h.service.UpdateViolation(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, v)
}

func (h *Handlers) MyViolations(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.MyViolations(r.Context(), page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) DisputeViolation(w http.ResponseWriter, r *http.Request) {
	var in DisputeViolationInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	d, err := h.service.DisputeViolation(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteCreated(w, d)
}

func (h *Handlers) ListDisputes(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := DisputeFilter{
		UserID:      httputil.ParseQueryString(r, "userId", ""),
		ViolationID: httputil.ParseQueryString(r, "violationId", ""),
		Status:      DisputeStatus(httputil.ParseQueryString(r, "status", "")),
		Limit:       page.Limit,
		Offset:      page.Offset,
	}

	result, err := h.service.ListDisputes(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var in ResolveDisputeInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}

	d, err := h.service.ResolveDispute(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

func (h *Handlers) MyDisputes(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	status := DisputeStatus(httputil.ParseQueryString(r, "status", ""))

	result, err := h.service.MyDisputes(r.Context(), status, page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID := httputil.ParseQueryString(r, "userId", "")

	perms, err := h.service.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

func (h *Handlers) RefreshRoles(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RefreshRoles(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) RebuildRoles(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RebuildRoles(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) RolesVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.service.RolesVersion(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"version": version})
}
