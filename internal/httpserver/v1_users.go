package httpserver

import (
	"net/http"
	"strings"
)

type searchUsersResponse struct {
	Users []userItem `json:"users"`
}

func (api *v1API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < 2 {
		writeAPIError(w, ErrCodeValidation, "query must be at least 2 characters")
		return
	}

	users, err := api.store.SearchUsers(r.Context(), query, 20)
	if err != nil {
		api.logger.Error("search users failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]userItem, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		items = append(items, userItem{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
		})
	}

	writeJSON(w, http.StatusOK, searchUsersResponse{Users: items})
}
