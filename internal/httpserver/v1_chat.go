package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pairchat-backend/internal/storage"
)

type historyMessageItem struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
	Seq         int64  `json:"seq"`
	CreatedAt   string `json:"createdAt"`
	IsRead      bool   `json:"isRead"`
}

type historyResponse struct {
	Messages []historyMessageItem `json:"messages"`
}

type markReadResponse struct {
	Marked int64 `json:"marked"`
}

func (api *v1API) handleChatSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/chat/")
	parts := splitPath(rest)
	if len(parts) != 2 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}

	peerID := parts[0]
	switch parts[1] {
	case "messages":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleChatHistory(w, r, peerID)
	case "read":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMarkRead(w, r, peerID)
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

// handleChatHistory returns the full ordered history between the caller and
// the peer. The room is looked up, never created: history never creates rooms.
func (api *v1API) handleChatHistory(w http.ResponseWriter, r *http.Request, peerID string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	friends, err := api.store.AreFriends(r.Context(), userID, peerID)
	if err != nil {
		api.logger.Error("friendship check failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}
	if !friends {
		writeAPIError(w, ErrCodeNotFriends, "you can only view chat history with friends")
		return
	}

	room, err := api.store.GetRoomByParticipants(r.Context(), userID, peerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Friends who never chatted have no room yet.
			writeJSON(w, http.StatusOK, historyResponse{Messages: []historyMessageItem{}})
			return
		}
		api.logger.Error("get room failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	messages, err := api.store.ListMessages(r.Context(), room.ID)
	if err != nil {
		api.logger.Error("list messages failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]historyMessageItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, historyMessageItem{
			ID:          m.ID,
			SenderID:    m.SenderID,
			RecipientID: m.RecipientID,
			Text:        m.Text,
			Seq:         m.Seq,
			CreatedAt:   time.UnixMilli(m.CreatedAtMs).UTC().Format(time.RFC3339),
			IsRead:      m.IsRead,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{Messages: items})
}

func (api *v1API) handleMarkRead(w http.ResponseWriter, r *http.Request, peerID string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	room, err := api.store.GetRoomByParticipants(r.Context(), userID, peerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, markReadResponse{Marked: 0})
			return
		}
		api.logger.Error("get room failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	marked, err := api.store.MarkMessagesRead(r.Context(), room.ID, userID)
	if err != nil {
		api.logger.Error("mark read failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, markReadResponse{Marked: marked})
}
