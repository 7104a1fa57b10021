package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pairchat-backend/internal/storage"
)

type friendListResponse struct {
	Friends []userItem `json:"friends"`
}

type friendRequestItem struct {
	ID          string `json:"id"`
	RequesterID string `json:"requesterId"`
	AddresseeID string `json:"addresseeId"`
	Status      string `json:"status"`
	CreatedAtMs int64  `json:"createdAtMs"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

type friendRequestListResponse struct {
	Requests []friendRequestItem `json:"requests"`
}

type createFriendRequestRequest struct {
	UserID string `json:"userId"`
}

type friendRequestResponse struct {
	Request friendRequestItem `json:"request"`
}

func (api *v1API) handleFriends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	friends, err := api.store.ListFriends(r.Context(), userID)
	if err != nil {
		api.logger.Error("list friends failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]userItem, 0, len(friends))
	for _, u := range friends {
		items = append(items, userItem{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
		})
	}

	writeJSON(w, http.StatusOK, friendListResponse{Friends: items})
}

func (api *v1API) handleFriendSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/friends/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && parts[0] == "requests":
		switch r.Method {
		case http.MethodGet:
			api.handleListFriendRequests(w, r)
		case http.MethodPost:
			api.handleCreateFriendRequest(w, r)
		default:
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 3 && parts[0] == "requests":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		switch parts[2] {
		case "accept":
			api.handleMutateFriendRequest(w, r, parts[1], "accept")
		case "reject":
			api.handleMutateFriendRequest(w, r, parts[1], "reject")
		default:
			writeAPIError(w, ErrCodeNotFound, "not found")
		}
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleCreateFriendRequest(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req createFriendRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeAPIError(w, ErrCodeValidation, "userId is required")
		return
	}

	if _, err := api.store.GetUserByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "user not found")
			return
		}
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	row, err := api.store.CreateFriendRequest(r.Context(), userID, req.UserID, time.Now().UnixMilli())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCannotChatSelf):
			writeAPIError(w, ErrCodeCannotChatSelf, "cannot send a friend request to yourself")
		case errors.Is(err, storage.ErrAlreadyFriends):
			writeAPIError(w, ErrCodeAlreadyFriends, "already friends")
		case errors.Is(err, storage.ErrRequestExists):
			writeAPIError(w, ErrCodeFriendRequestExists, "friend request already exists")
		default:
			api.logger.Error("create friend request failed", "error", err)
			writeAPIError(w, ErrCodeInternal, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, friendRequestResponse{Request: toFriendRequestItem(row)})
}

func (api *v1API) handleListFriendRequests(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	box := r.URL.Query().Get("box")
	status := r.URL.Query().Get("status")

	rows, err := api.store.ListFriendRequests(r.Context(), userID, box, status)
	if err != nil {
		api.logger.Error("list friend requests failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]friendRequestItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, toFriendRequestItem(row))
	}

	writeJSON(w, http.StatusOK, friendRequestListResponse{Requests: items})
}

func (api *v1API) handleMutateFriendRequest(w http.ResponseWriter, r *http.Request, requestID, action string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	nowMs := time.Now().UnixMilli()

	var row storage.FriendRequestRow
	var err error
	if action == "accept" {
		row, err = api.store.AcceptFriendRequest(r.Context(), requestID, userID, nowMs)
	} else {
		row, err = api.store.RejectFriendRequest(r.Context(), requestID, userID, nowMs)
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeAPIError(w, ErrCodeFriendRequestNotFound, "friend request not found")
		case errors.Is(err, storage.ErrAccessDenied):
			writeAPIError(w, ErrCodeFriendRequestAccessDenied, "access denied")
		case errors.Is(err, storage.ErrInvalidState):
			writeAPIError(w, ErrCodeFriendRequestInvalidState, "friend request is not pending")
		default:
			api.logger.Error("mutate friend request failed", "error", err, "action", action)
			writeAPIError(w, ErrCodeInternal, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, friendRequestResponse{Request: toFriendRequestItem(row)})
}

func toFriendRequestItem(row storage.FriendRequestRow) friendRequestItem {
	return friendRequestItem{
		ID:          row.ID,
		RequesterID: row.RequesterID,
		AddresseeID: row.AddresseeID,
		Status:      row.Status,
		CreatedAtMs: row.CreatedAtMs,
		UpdatedAtMs: row.UpdatedAtMs,
	}
}
