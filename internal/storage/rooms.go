package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// computePairKey derives the canonical room key for an unordered user pair.
// The ids are sorted first, so both orderings of the pair produce the same key.
func computePairKey(user1ID, user2ID string) string {
	ids := []string{user1ID, user2ID}
	sort.Strings(ids)
	h := sha256.Sum256([]byte(ids[0] + ":" + ids[1]))
	return hex.EncodeToString(h[:])
}

// GetOrCreateRoom resolves the unordered pair to its single room, creating it
// on first contact. Two callers racing on the same pair collapse onto one row
// via the unique pair_key constraint.
func (s *Store) GetOrCreateRoom(ctx context.Context, userID, peerUserID string, nowMs int64) (RoomRow, error) {
	if s == nil || s.db == nil {
		return RoomRow{}, fmt.Errorf("db not initialized")
	}
	if userID == peerUserID {
		return RoomRow{}, ErrCannotChatSelf
	}

	key := computePairKey(userID, peerUserID)

	existing, err := s.getRoomByPairKey(ctx, key)
	if err == nil {
		return existing, nil
	}

	ids := []string{userID, peerUserID}
	sort.Strings(ids)

	room := RoomRow{
		ID:          uuid.NewString(),
		PairKey:     key,
		User1ID:     ids[0],
		User2ID:     ids[1],
		CreatedAtMs: nowMs,
	}

	q := `INSERT INTO rooms (id, pair_key, user1_id, user2_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		room.ID, room.PairKey, room.User1ID, room.User2ID, room.CreatedAtMs,
	); err != nil {
		if isUniqueViolation(err) {
			return s.getRoomByPairKey(ctx, key)
		}
		return RoomRow{}, err
	}

	return room, nil
}

// GetRoomByParticipants returns the existing room for the pair without
// creating one.
func (s *Store) GetRoomByParticipants(ctx context.Context, userID, peerUserID string) (RoomRow, error) {
	if s == nil || s.db == nil {
		return RoomRow{}, fmt.Errorf("db not initialized")
	}
	return s.getRoomByPairKey(ctx, computePairKey(userID, peerUserID))
}

func (s *Store) getRoomByPairKey(ctx context.Context, key string) (RoomRow, error) {
	q := `SELECT id, pair_key, user1_id, user2_id, created_at_ms
		FROM rooms WHERE pair_key = ?;`

	var room RoomRow
	if err := s.db.QueryRowContext(ctx, s.rebind(q), key).Scan(
		&room.ID, &room.PairKey, &room.User1ID, &room.User2ID, &room.CreatedAtMs,
	); err != nil {
		if err == sql.ErrNoRows {
			return RoomRow{}, fmt.Errorf("%w: room", ErrNotFound)
		}
		return RoomRow{}, err
	}
	return room, nil
}

// CountRoomsForPair exists for tests that assert room creation is gated.
func (s *Store) CountRoomsForPair(ctx context.Context, userID, peerUserID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("db not initialized")
	}

	q := `SELECT COUNT(*) FROM rooms WHERE pair_key = ?;`
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(q), computePairKey(userID, peerUserID)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
