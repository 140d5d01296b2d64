package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/authgateway/middleware"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/services"
	"github.com/upb/authgateway/utils"
	"go.uber.org/zap"
)

// UserDirectory is the profile surface of services.UserService
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdateProfile(ctx context.Context, userID int64, input services.UpdateProfileInput) (*models.User, error)
	SyncWithProvider(ctx context.Context, userID int64) (*models.User, error)
	Delete(ctx context.Context, userID int64) error
}

// ActivityReader lists a user's audit trail; satisfied by *audit.AuditService
type ActivityReader interface {
	History(ctx context.Context, userID int64, limit, offset int) ([]*models.AuditLog, error)
}

// UpdateProfileRequest is the body of PUT /users/me. Omitted fields are left
// alone; an empty profile_picture_url removes the picture.
type UpdateProfileRequest struct {
	Name              *string `json:"name,omitempty" validate:"omitempty,max=100"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty" validate:"omitempty,max=2048"`
}

// ActivityResponse pages through the caller's audit trail
type ActivityResponse struct {
	Events []*models.AuditLog `json:"events"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// UserHandler serves the signed-in user's profile
type UserHandler struct {
	users    UserDirectory
	activity ActivityReader
	logger   *zap.Logger
}

// NewUserHandler creates a new UserHandler. activity may be nil.
func NewUserHandler(users UserDirectory, activity ActivityReader, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		activity: activity,
		logger:   logger,
	}
}

// HandleGetMe handles GET /users/me
func (h *UserHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// HandleUpdateMe handles PUT /users/me
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}
	if req.ProfilePictureURL != nil && *req.ProfilePictureURL != "" {
		if err := utils.ValidateHTTPURL(*req.ProfilePictureURL, "profile_picture_url"); err != nil {
			HandleValidationError(w, err, h.logger)
			return
		}
	}

	user, err := h.users.UpdateProfile(r.Context(), id.UserID, services.UpdateProfileInput{
		Name:              req.Name,
		ProfilePictureURL: req.ProfilePictureURL,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// HandleSyncMe handles POST /users/me/sync
func (h *UserHandler) HandleSyncMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	user, err := h.users.SyncWithProvider(r.Context(), id.UserID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// HandleDeleteMe handles DELETE /users/me
func (h *UserHandler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), id.UserID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleGetUser handles GET /users/{id}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.ParseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user.Profile())
}

// HandleActivity handles GET /users/me/activity?limit=&offset=
func (h *UserHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	switch {
	case limit == 0:
		limit = 50
	case limit > 100:
		limit = 100
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	events := []*models.AuditLog{}
	if h.activity != nil {
		events, err = h.activity.History(r.Context(), id.UserID, limit, offset)
		if err != nil {
			HandleServiceError(w, services.WrapStore(err), h.logger)
			return
		}
	}

	_ = utils.WriteOK(w, ActivityResponse{Events: events, Limit: limit, Offset: offset})
}

func (h *UserHandler) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
	}
	return id, ok
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &utils.ValidationError{Message: name + " must be a non-negative integer"}
	}
	return v, nil
}
