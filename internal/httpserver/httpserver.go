package httpserver

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"pairchat-backend/internal/auth"
	"pairchat-backend/internal/chat"
	"pairchat-backend/internal/storage"
)

type Store interface {
	Ready(ctx context.Context) error

	CreateUser(ctx context.Context, username, passwordHash, displayName string, nowMs int64) (storage.UserRow, error)
	GetUserByID(ctx context.Context, userID string) (storage.UserRow, error)
	GetUserByUsername(ctx context.Context, username string) (storage.UserRow, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]storage.UserRow, error)

	AreFriends(ctx context.Context, userID, peerUserID string) (bool, error)
	ListFriends(ctx context.Context, userID string) ([]storage.UserRow, error)
	CreateFriendRequest(ctx context.Context, requesterID, addresseeID string, nowMs int64) (storage.FriendRequestRow, error)
	ListFriendRequests(ctx context.Context, userID, box, status string) ([]storage.FriendRequestRow, error)
	AcceptFriendRequest(ctx context.Context, requestID, userID string, nowMs int64) (storage.FriendRequestRow, error)
	RejectFriendRequest(ctx context.Context, requestID, userID string, nowMs int64) (storage.FriendRequestRow, error)

	GetRoomByParticipants(ctx context.Context, userID, peerUserID string) (storage.RoomRow, error)
	ListMessages(ctx context.Context, roomID string) ([]storage.MessageRow, error)
	MarkMessagesRead(ctx context.Context, roomID, readerID string) (int64, error)
}

// TokenService issues tokens on login and resolves bearer tokens for the
// auth middleware.
type TokenService interface {
	Issue(userID string, now time.Time) (token string, expiresAt time.Time, err error)
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

func NewHandler(logger *slog.Logger, store Store, tokens TokenService, chatHandler *chat.Handler) http.Handler {
	mux := http.NewServeMux()
	api := newV1API(logger, store, tokens)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/ws/chat/", chatHandler.Handler())
	mux.HandleFunc("/v1/auth/", api.handleAuth)
	mux.HandleFunc("/v1/users", api.handleUsers)
	mux.HandleFunc("/v1/friends", api.handleFriends)
	mux.HandleFunc("/v1/friends/", api.handleFriendSubroutes)
	mux.HandleFunc("/v1/chat/", api.handleChatSubroutes)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		authMiddleware(tokens),
	)
}
