package handlers

import (
	"net/http"

	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the admin-only account listing.
type AdminHandler struct {
	userService *services.UserService
	log         logging.Logger
}

func NewAdminHandler(userService *services.UserService, log logging.Logger) *AdminHandler {
	if log == nil {
		log = logging.Nop{}
	}
	return &AdminHandler{userService: userService, log: log}
}

// AdminRouter registers admin routes. Every route requires an admin session.
func AdminRouter(r chi.Router, handler *AdminHandler, gates *Gates) {
	r.Use(gates.Protect(RequireRole(types.RoleAdmin)))
	r.Get("/users", handler.ListUsers)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.userService.List(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "list accounts", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if accounts == nil {
		accounts = []types.Account{}
	}
	writeJSON(w, http.StatusOK, UserListResponse{Items: accounts, Total: len(accounts)})
}

type UserListResponse struct {
	Items []types.Account `json:"items"`
	Total int             `json:"total"`
}

// Dashboard returns the caller's identity and role.
func Dashboard(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "login required")
		return
	}
	writeJSON(w, http.StatusOK, DashboardResponse{UserID: claims.UserID, Role: claims.Role})
}

type DashboardResponse struct {
	UserID string     `json:"user_id"`
	Role   types.Role `json:"role"`
}
