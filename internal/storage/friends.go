package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AreFriends reports whether an accepted friend request exists between the two
// users. The relation is symmetric but stored one-directional, so both
// orderings of the pair are checked.
func (s *Store) AreFriends(ctx context.Context, userID, peerUserID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("db not initialized")
	}
	if userID == "" || peerUserID == "" {
		return false, fmt.Errorf("missing user ids")
	}

	q := `SELECT 1 FROM friend_requests
		WHERE status = ?
		AND ((requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?));`
	var one int
	if err := s.db.QueryRowContext(ctx, s.rebind(q),
		FriendRequestStatusAccepted, userID, peerUserID, peerUserID, userID,
	).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return one == 1, nil
}

func (s *Store) ListFriends(ctx context.Context, userID string) ([]UserRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}

	q := `SELECT u.id, u.username, u.password_hash, u.display_name, u.created_at_ms, u.updated_at_ms
		FROM friend_requests f
		JOIN users u ON u.id = CASE WHEN f.requester_id = ? THEN f.addressee_id ELSE f.requester_id END
		WHERE f.status = ? AND (f.requester_id = ? OR f.addressee_id = ?)
		ORDER BY u.display_name ASC, u.username ASC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, FriendRequestStatusAccepted, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []UserRow
	for rows.Next() {
		var u UserRow
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.CreatedAtMs, &u.UpdatedAtMs); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return friends, nil
}

func (s *Store) CreateFriendRequest(ctx context.Context, requesterID, addresseeID string, nowMs int64) (FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return FriendRequestRow{}, fmt.Errorf("db not initialized")
	}
	if requesterID == "" || addresseeID == "" {
		return FriendRequestRow{}, fmt.Errorf("missing user ids")
	}
	if requesterID == addresseeID {
		return FriendRequestRow{}, ErrCannotChatSelf
	}

	alreadyFriends, err := s.AreFriends(ctx, requesterID, addresseeID)
	if err != nil {
		return FriendRequestRow{}, err
	}
	if alreadyFriends {
		return FriendRequestRow{}, ErrAlreadyFriends
	}

	// A pending request in either direction blocks a new one; the correct
	// action for the reverse case is accepting the existing request.
	if existing, err := s.getFriendRequestByPair(ctx, requesterID, addresseeID); err == nil {
		if existing.Status == FriendRequestStatusPending {
			return FriendRequestRow{}, ErrRequestExists
		}
	}
	if reverse, err := s.getFriendRequestByPair(ctx, addresseeID, requesterID); err == nil {
		if reverse.Status == FriendRequestStatusPending {
			return FriendRequestRow{}, ErrRequestExists
		}
	}

	req := FriendRequestRow{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      FriendRequestStatusPending,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}

	insertQ := `INSERT INTO friend_requests (id, requester_id, addressee_id, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?);`

	if _, err := s.db.ExecContext(ctx, s.rebind(insertQ),
		req.ID, req.RequesterID, req.AddresseeID, req.Status, req.CreatedAtMs, req.UpdatedAtMs,
	); err != nil {
		if !isUniqueViolation(err) {
			return FriendRequestRow{}, err
		}

		existing, err := s.getFriendRequestByPair(ctx, requesterID, addresseeID)
		if err != nil {
			return FriendRequestRow{}, err
		}
		switch existing.Status {
		case FriendRequestStatusPending:
			return FriendRequestRow{}, ErrRequestExists
		case FriendRequestStatusAccepted:
			return FriendRequestRow{}, ErrAlreadyFriends
		default:
			// Re-open a previously rejected request (idempotent for the pair).
			updateQ := `UPDATE friend_requests SET status = ?, updated_at_ms = ? WHERE id = ?;`
			if _, err := s.db.ExecContext(ctx, s.rebind(updateQ), FriendRequestStatusPending, nowMs, existing.ID); err != nil {
				return FriendRequestRow{}, err
			}
			existing.Status = FriendRequestStatusPending
			existing.UpdatedAtMs = nowMs
			return existing, nil
		}
	}

	return req, nil
}

func (s *Store) ListFriendRequests(ctx context.Context, userID, box, status string) ([]FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}

	var q string
	var args []any

	switch box {
	case "outgoing":
		q = `SELECT id, requester_id, addressee_id, status, created_at_ms, updated_at_ms
			FROM friend_requests WHERE requester_id = ?`
		args = append(args, userID)
	default:
		q = `SELECT id, requester_id, addressee_id, status, created_at_ms, updated_at_ms
			FROM friend_requests WHERE addressee_id = ?`
		args = append(args, userID)
	}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	q += " ORDER BY updated_at_ms DESC LIMIT 50;"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequestRow
	for rows.Next() {
		var r FriendRequestRow
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.AddresseeID, &r.Status, &r.CreatedAtMs, &r.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AcceptFriendRequest(ctx context.Context, requestID, userID string, nowMs int64) (FriendRequestRow, error) {
	return s.mutateFriendRequest(ctx, requestID, userID, nowMs, FriendRequestStatusAccepted)
}

func (s *Store) RejectFriendRequest(ctx context.Context, requestID, userID string, nowMs int64) (FriendRequestRow, error) {
	return s.mutateFriendRequest(ctx, requestID, userID, nowMs, FriendRequestStatusRejected)
}

func (s *Store) mutateFriendRequest(ctx context.Context, requestID, userID string, nowMs int64, newStatus string) (FriendRequestRow, error) {
	if s == nil || s.db == nil {
		return FriendRequestRow{}, fmt.Errorf("db not initialized")
	}
	if requestID == "" || userID == "" {
		return FriendRequestRow{}, fmt.Errorf("missing ids")
	}

	txCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return FriendRequestRow{}, err
	}
	defer func() { _ = tx.Rollback() }()

	q := rebindQuery(s.driver, `SELECT id, requester_id, addressee_id, status, created_at_ms, updated_at_ms
		FROM friend_requests WHERE id = ?;`)
	var req FriendRequestRow
	if err := tx.QueryRowContext(txCtx, q, requestID).Scan(
		&req.ID, &req.RequesterID, &req.AddresseeID, &req.Status, &req.CreatedAtMs, &req.UpdatedAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return FriendRequestRow{}, fmt.Errorf("%w: friend request", ErrNotFound)
		}
		return FriendRequestRow{}, err
	}

	// Only the addressee decides the outcome of a pending request.
	if req.AddresseeID != userID {
		return FriendRequestRow{}, ErrAccessDenied
	}
	if req.Status != FriendRequestStatusPending {
		return FriendRequestRow{}, ErrInvalidState
	}

	updateQ := rebindQuery(s.driver, `UPDATE friend_requests SET status = ?, updated_at_ms = ? WHERE id = ?;`)
	res, err := tx.ExecContext(txCtx, updateQ, newStatus, nowMs, req.ID)
	if err != nil {
		return FriendRequestRow{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return FriendRequestRow{}, fmt.Errorf("%w: friend request", ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return FriendRequestRow{}, err
	}

	req.Status = newStatus
	req.UpdatedAtMs = nowMs
	return req, nil
}

func (s *Store) getFriendRequestByPair(ctx context.Context, requesterID, addresseeID string) (FriendRequestRow, error) {
	q := `SELECT id, requester_id, addressee_id, status, created_at_ms, updated_at_ms
		FROM friend_requests WHERE requester_id = ? AND addressee_id = ?;`
	var r FriendRequestRow
	if err := s.db.QueryRowContext(ctx, s.rebind(q), requesterID, addresseeID).Scan(
		&r.ID, &r.RequesterID, &r.AddresseeID, &r.Status, &r.CreatedAtMs, &r.UpdatedAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return FriendRequestRow{}, fmt.Errorf("%w: friend request", ErrNotFound)
		}
		return FriendRequestRow{}, err
	}
	return r, nil
}
