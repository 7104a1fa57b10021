package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pairchat-backend/internal/auth"
	"pairchat-backend/internal/bus"
	"pairchat-backend/internal/chat"
	"pairchat-backend/internal/storage"
)

type testServer struct {
	srv   *httptest.Server
	store *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	store, err := storage.Open(context.Background(), "sqlite::memory:", logger)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tokens := auth.New("test-secret", time.Hour, store)
	chatHandler := chat.NewHandler(logger, tokens, store, bus.New(logger))
	t.Cleanup(chatHandler.CloseAll)

	handler := NewHandler(logger, store, tokens, chatHandler)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest(%s %s) error = %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatalf("decode response error = %v", err)
	}
}

// register creates an account through the public API and returns the user id
// and a bearer token for it.
func (ts *testServer) register(t *testing.T, username string) (userID, token string) {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/v1/auth/register", "",
		`{"username":"`+username+`","password":"Passw0rd","displayName":"`+username+`"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register %q status = %d, want 200", username, res.StatusCode)
	}
	var body authResponse
	decodeBody(t, res, &body)
	return body.User.ID, body.Token
}

func (ts *testServer) befriend(t *testing.T, requesterToken, addresseeID, addresseeToken string) {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/v1/friends/requests", requesterToken, `{"userId":"`+addresseeID+`"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create friend request status = %d, want 200", res.StatusCode)
	}
	var created friendRequestResponse
	decodeBody(t, res, &created)

	res = ts.do(t, http.MethodPost, "/v1/friends/requests/"+created.Request.ID+"/accept", addresseeToken, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept friend request status = %d, want 200", res.StatusCode)
	}
	res.Body.Close()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodGet, "/healthz", "", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodGet, "/readyz", "", "")
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	_ = ts.store.Close()

	res = ts.do(t, http.MethodGet, "/readyz", "", "")
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status after close = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	userID, token := ts.register(t, "alice")
	if userID == "" || token == "" {
		t.Fatal("register returned empty user id or token")
	}

	// Duplicate username is a conflict.
	res := ts.do(t, http.MethodPost, "/v1/auth/register", "",
		`{"username":"alice","password":"Passw0rd","displayName":"alice"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want 409", res.StatusCode)
	}

	res = ts.do(t, http.MethodPost, "/v1/auth/login", "", `{"username":"alice","password":"wrong"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", res.StatusCode)
	}

	res = ts.do(t, http.MethodPost, "/v1/auth/login", "", `{"username":"alice","password":"Passw0rd"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", res.StatusCode)
	}
	var login authResponse
	decodeBody(t, res, &login)
	if login.User.ID != userID {
		t.Fatalf("login user id = %q, want %q", login.User.ID, userID)
	}

	res = ts.do(t, http.MethodGet, "/v1/auth/me", login.Token, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d, want 200", res.StatusCode)
	}
	var me meResponse
	decodeBody(t, res, &me)
	if me.User.Username != "alice" {
		t.Fatalf("me username = %q, want %q", me.User.Username, "alice")
	}

	res = ts.do(t, http.MethodGet, "/v1/auth/me", "", "")
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me without token status = %d, want 401", res.StatusCode)
	}
}

func TestRegister_Validation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"short username", `{"username":"ab","password":"Passw0rd","displayName":"ab"}`},
		{"bad characters", `{"username":"has space","password":"Passw0rd","displayName":"x"}`},
		{"weak password", `{"username":"validname","password":"password","displayName":"x"}`},
		{"short password", `{"username":"validname","password":"Pw0","displayName":"x"}`},
		{"missing display name", `{"username":"validname","password":"Passw0rd","displayName":""}`},
		{"not json", `not json`},
	}
	for _, tc := range cases {
		res := ts.do(t, http.MethodPost, "/v1/auth/register", "", tc.body)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, res.StatusCode)
		}
	}
}

func TestFriendRequestFlow(t *testing.T) {
	ts := newTestServer(t)

	aliceID, aliceToken := ts.register(t, "alice")
	bobID, bobToken := ts.register(t, "bob")

	res := ts.do(t, http.MethodPost, "/v1/friends/requests", aliceToken, `{"userId":"`+bobID+`"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create request status = %d, want 200", res.StatusCode)
	}
	var created friendRequestResponse
	decodeBody(t, res, &created)
	if created.Request.Status != storage.FriendRequestStatusPending {
		t.Fatalf("status = %q, want pending", created.Request.Status)
	}

	// Bob sees it in his incoming box.
	res = ts.do(t, http.MethodGet, "/v1/friends/requests?box=incoming", bobToken, "")
	var incoming friendRequestListResponse
	decodeBody(t, res, &incoming)
	if len(incoming.Requests) != 1 || incoming.Requests[0].RequesterID != aliceID {
		t.Fatalf("incoming = %+v, want one request from alice", incoming.Requests)
	}

	// Only the addressee can accept.
	res = ts.do(t, http.MethodPost, "/v1/friends/requests/"+created.Request.ID+"/accept", aliceToken, "")
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("requester accept status = %d, want 403", res.StatusCode)
	}

	res = ts.do(t, http.MethodPost, "/v1/friends/requests/"+created.Request.ID+"/accept", bobToken, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status = %d, want 200", res.StatusCode)
	}
	var accepted friendRequestResponse
	decodeBody(t, res, &accepted)
	if accepted.Request.Status != storage.FriendRequestStatusAccepted {
		t.Fatalf("status = %q, want accepted", accepted.Request.Status)
	}

	// Both sides now list each other.
	res = ts.do(t, http.MethodGet, "/v1/friends", aliceToken, "")
	var aliceFriends friendListResponse
	decodeBody(t, res, &aliceFriends)
	if len(aliceFriends.Friends) != 1 || aliceFriends.Friends[0].ID != bobID {
		t.Fatalf("alice friends = %+v, want just bob", aliceFriends.Friends)
	}

	res = ts.do(t, http.MethodGet, "/v1/friends", bobToken, "")
	var bobFriends friendListResponse
	decodeBody(t, res, &bobFriends)
	if len(bobFriends.Friends) != 1 || bobFriends.Friends[0].ID != aliceID {
		t.Fatalf("bob friends = %+v, want just alice", bobFriends.Friends)
	}

	// A second request between established friends is a conflict.
	res = ts.do(t, http.MethodPost, "/v1/friends/requests", aliceToken, `{"userId":"`+bobID+`"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("repeat request status = %d, want 409", res.StatusCode)
	}
}

func TestFriendRequest_Validation(t *testing.T) {
	ts := newTestServer(t)

	aliceID, aliceToken := ts.register(t, "alice")

	res := ts.do(t, http.MethodPost, "/v1/friends/requests", aliceToken, `{"userId":"`+aliceID+`"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("self request status = %d, want 400", res.StatusCode)
	}

	res = ts.do(t, http.MethodPost, "/v1/friends/requests", aliceToken, `{"userId":"no-such-user"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", res.StatusCode)
	}

	res = ts.do(t, http.MethodPost, "/v1/friends/requests", "", `{"userId":"`+aliceID+`"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", res.StatusCode)
	}
}

func TestUserSearch(t *testing.T) {
	ts := newTestServer(t)

	_, aliceToken := ts.register(t, "alice")
	bobID, _ := ts.register(t, "bobby")
	ts.register(t, "bobcat")

	res := ts.do(t, http.MethodGet, "/v1/users?q=bob", aliceToken, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, want 200", res.StatusCode)
	}
	var found searchUsersResponse
	decodeBody(t, res, &found)
	if len(found.Users) != 2 {
		t.Fatalf("users = %d, want 2", len(found.Users))
	}
	seen := make(map[string]bool)
	for _, u := range found.Users {
		seen[u.ID] = true
	}
	if !seen[bobID] {
		t.Fatalf("results %v missing bobby (%s)", found.Users, bobID)
	}

	// The caller is excluded from results.
	res = ts.do(t, http.MethodGet, "/v1/users?q=ali", aliceToken, "")
	var self searchUsersResponse
	decodeBody(t, res, &self)
	if len(self.Users) != 0 {
		t.Fatalf("self search users = %d, want 0", len(self.Users))
	}

	res = ts.do(t, http.MethodGet, "/v1/users?q=a", aliceToken, "")
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("short query status = %d, want 400", res.StatusCode)
	}
}

func TestChatHistoryAndMarkRead(t *testing.T) {
	ts := newTestServer(t)

	aliceID, aliceToken := ts.register(t, "alice")
	bobID, bobToken := ts.register(t, "bob")
	_, carolToken := ts.register(t, "carol")
	ts.befriend(t, aliceToken, bobID, bobToken)

	// Friends who never chatted get an empty history, not an error.
	res := ts.do(t, http.MethodGet, "/v1/chat/"+bobID+"/messages", aliceToken, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("empty history status = %d, want 200", res.StatusCode)
	}
	var empty historyResponse
	decodeBody(t, res, &empty)
	if len(empty.Messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(empty.Messages))
	}

	// Send two messages over the websocket.
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/chat/" + bobID + "?token=" + aliceToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil { // connection_established
		t.Fatalf("ReadMessage() error = %v", err)
	}
	for _, text := range []string{"first", "second"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"`+text+`"}`)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil { // own echo, confirms persistence happened
			t.Fatalf("ReadMessage() error = %v", err)
		}
	}

	res = ts.do(t, http.MethodGet, "/v1/chat/"+aliceID+"/messages", bobToken, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", res.StatusCode)
	}
	var history historyResponse
	decodeBody(t, res, &history)
	if len(history.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(history.Messages))
	}
	if history.Messages[0].Text != "first" || history.Messages[1].Text != "second" {
		t.Fatalf("history out of order: %+v", history.Messages)
	}
	if history.Messages[0].Seq >= history.Messages[1].Seq {
		t.Fatalf("seq not ascending: %d, %d", history.Messages[0].Seq, history.Messages[1].Seq)
	}
	if history.Messages[0].IsRead {
		t.Fatal("message already read")
	}

	// Bob marks his side read; alice has nothing addressed to her yet.
	res = ts.do(t, http.MethodPost, "/v1/chat/"+aliceID+"/read", bobToken, "")
	var marked markReadResponse
	decodeBody(t, res, &marked)
	if marked.Marked != 2 {
		t.Fatalf("marked = %d, want 2", marked.Marked)
	}

	res = ts.do(t, http.MethodPost, "/v1/chat/"+bobID+"/read", aliceToken, "")
	decodeBody(t, res, &marked)
	if marked.Marked != 0 {
		t.Fatalf("marked = %d, want 0", marked.Marked)
	}

	// Non-friends cannot read the history.
	res = ts.do(t, http.MethodGet, "/v1/chat/"+aliceID+"/messages", carolToken, "")
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-friend history status = %d, want 403", res.StatusCode)
	}
}
