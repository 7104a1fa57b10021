package storage

import "errors"

const (
	FriendRequestStatusPending  = "pending"
	FriendRequestStatusAccepted = "accepted"
	FriendRequestStatusRejected = "rejected"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUsernameExists = errors.New("username exists")
	ErrCannotChatSelf = errors.New("cannot chat self")
	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidState   = errors.New("invalid state")
	ErrRequestExists  = errors.New("friend request exists")
	ErrAlreadyFriends = errors.New("already friends")
	ErrEmptyMessage   = errors.New("empty message")
)

type UserRow struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

type FriendRequestRow struct {
	ID          string
	RequesterID string
	AddresseeID string
	Status      string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// RoomRow is the canonical one-to-one chat room for an unordered user pair.
// User1ID sorts before User2ID; PairKey is derived from the sorted pair and
// is unique, so the pair maps to exactly one room.
type RoomRow struct {
	ID          string
	PairKey     string
	User1ID     string
	User2ID     string
	CreatedAtMs int64
}

type MessageRow struct {
	ID          string
	RoomID      string
	SenderID    string
	RecipientID string
	Seq         int64
	Text        string
	IsRead      bool
	CreatedAtMs int64
}
