// internal/fulfillment/session/store.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/models"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * 24 * time.Hour

func key(sessionID string) string {
	return fmt.Sprintf("session:%s:selection", sessionID)
}

// Store persists per-session selections in Redis.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewStore(rdb *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.ForComponent(log, "session-store"),
	}
}

// Load returns the session's selection. Unknown sessions, unreadable values
// and values written by an older schema all load as the empty selection.
func (s *Store) Load(ctx context.Context, sessionID string) (models.Selection, error) {
	if sessionID == "" {
		return models.Selection{}, apperrors.NewValidationError("session id is required")
	}

	raw, err := s.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.NewSelection(), nil
	}
	if err != nil {
		return models.Selection{}, fmt.Errorf("load selection: %w", err)
	}

	var sel models.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		s.logger.Warn("discarding unreadable selection", map[string]interface{}{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return models.NewSelection(), nil
	}
	if sel.Version < models.SelectionVersion {
		s.logger.Info("discarding selection from older schema", map[string]interface{}{
			"sessionId": sessionID,
			"version":   sel.Version,
		})
		if err := s.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
			return models.Selection{}, fmt.Errorf("drop stale selection: %w", err)
		}
		return models.NewSelection(), nil
	}
	return sel, nil
}

// Save writes the selection at the current schema version.
func (s *Store) Save(ctx context.Context, sessionID string, sel models.Selection) (models.Selection, error) {
	if sessionID == "" {
		return models.Selection{}, apperrors.NewValidationError("session id is required")
	}
	sel.Version = models.SelectionVersion

	raw, err := json.Marshal(sel)
	if err != nil {
		return models.Selection{}, fmt.Errorf("encode selection: %w", err)
	}
	if err := s.rdb.Set(ctx, key(sessionID), raw, s.ttl).Err(); err != nil {
		return models.Selection{}, fmt.Errorf("save selection: %w", err)
	}
	return sel, nil
}

// BranchID is the branch selected in the session, or "".
func (s *Store) BranchID(ctx context.Context, sessionID string) (string, error) {
	sel, err := s.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sel.Branch == nil {
		return "", nil
	}
	return sel.Branch.ID, nil
}
