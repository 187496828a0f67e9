package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/minichat/internal/conversation"
	"go.uber.org/zap"
)

// AppStateKey is the row under which the whole AppState blob is kept.
const AppStateKey = "minichat-app-state"

// AppStateStore persists conversation.AppState as one versioned JSON blob.
// It implements conversation.Persister.
type AppStateStore struct {
	db     *DB
	logger *zap.Logger
}

// NewAppStateStore creates a persister on db.
func NewAppStateStore(db *DB, logger *zap.Logger) *AppStateStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppStateStore{db: db, logger: logger}
}

var _ conversation.Persister = (*AppStateStore)(nil)

// Load returns the stored state, or nil when there is none. A blob that no
// longer parses is deleted and reported as absent. A version mismatch is
// logged and the data accepted as-is.
func (s *AppStateStore) Load(ctx context.Context) (*conversation.AppState, error) {
	var version int
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM app_state WHERE key = ?`, AppStateKey).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load app state: %w", err)
	}

	var st conversation.AppState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		s.logger.Warn("discarding corrupt app state", zap.Error(err))
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM app_state WHERE key = ?`, AppStateKey); delErr != nil {
			return nil, fmt.Errorf("clear corrupt app state: %w", delErr)
		}
		return nil, nil
	}
	if st.Version != conversation.StateVersion {
		s.logger.Warn("app state version mismatch",
			zap.Int("stored", st.Version),
			zap.Int("expected", conversation.StateVersion))
	}
	return &st, nil
}

// Save replaces the stored blob with st.
func (s *AppStateStore) Save(ctx context.Context, st *conversation.AppState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode app state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		AppStateKey, st.Version, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save app state: %w", err)
	}
	return nil
}
