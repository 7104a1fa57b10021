package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateUser_DuplicateUsername(t *testing.T) {
	store := newTestStore(t)

	createTestUser(t, store, "alice")

	if _, err := store.CreateUser(context.Background(), "alice", "hash", "Alice Again", time.Now().UnixMilli()); !errors.Is(err, ErrUsernameExists) {
		t.Fatalf("CreateUser() error = %v, want ErrUsernameExists", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, store, "alice")

	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername() error = %v", err)
	}
	if got.ID != alice.ID {
		t.Fatalf("ID = %q, want %q", got.ID, alice.ID)
	}

	if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUserByUsername(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestSearchUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, store, "alice")
	createTestUser(t, store, "alicia")
	createTestUser(t, store, "bob")

	users, err := store.SearchUsers(ctx, "ali", 0)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}

	users, err = store.SearchUsers(ctx, "ali", 1)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("limited users = %d, want 1", len(users))
	}

	users, err = store.SearchUsers(ctx, "zzz", 0)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("users = %d, want 0", len(users))
	}
}
