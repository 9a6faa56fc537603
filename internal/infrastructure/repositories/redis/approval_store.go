package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetsignal/internal/core/domain"
	"meetsignal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

var withdrawScript = redis.NewScript(`
local data = redis.call("GET", KEYS[1])
if not data then
	return 0
end
if cjson.decode(data).connection_id ~= ARGV[1] then
	return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// ApprovalStore keeps join requests and pending approvals as TTL-bound keys.
// Take* use GETDEL so exactly one caller consumes each record.
type ApprovalStore struct {
	client *redis.Client
}

func NewApprovalStore(client *redis.Client) ports.ApprovalStore {
	return &ApprovalStore{client: client}
}

func (s *ApprovalStore) PutRequest(ctx context.Context, req domain.JoinRequest, ttl time.Duration) error {
	return s.put(ctx, requestKey(req.RoomID, req.ParticipantID), req, ttl)
}

func (s *ApprovalStore) TakeRequest(ctx context.Context, room domain.RoomID, p domain.ParticipantID) (*domain.JoinRequest, error) {
	var req domain.JoinRequest
	ok, err := s.take(ctx, requestKey(room, p), &req)
	if err != nil || !ok {
		return nil, err
	}
	return &req, nil
}

func (s *ApprovalStore) WithdrawRequest(ctx context.Context, room domain.RoomID, p domain.ParticipantID, conn domain.ConnectionID) (bool, error) {
	n, err := withdrawScript.Run(ctx, s.client, []string{requestKey(room, p)}, string(conn)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to withdraw join request: %w", err)
	}
	return n == 1, nil
}

func (s *ApprovalStore) PutApproval(ctx context.Context, approval domain.PendingApproval, ttl time.Duration) error {
	return s.put(ctx, pendingKey(approval.RoomID, approval.ParticipantID), approval, ttl)
}

func (s *ApprovalStore) TakeApproval(ctx context.Context, room domain.RoomID, p domain.ParticipantID) (*domain.PendingApproval, error) {
	var approval domain.PendingApproval
	ok, err := s.take(ctx, pendingKey(room, p), &approval)
	if err != nil || !ok {
		return nil, err
	}
	return &approval, nil
}

func (s *ApprovalStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *ApprovalStore) take(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to take %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}
