package role

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

type roleSnapshot struct {
	bun.BaseModel `bun:"table:role_snapshots,alias:rs"`

	ID        string    `bun:"id,pk"`
	Payload   *Role     `bun:"payload,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresStore keeps role snapshots in the role_snapshots table.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", contractx.ErrValidation)
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return NewPostgresStoreWithDB(bun.NewDB(sqldb, pgdialect.New())), nil
}

func NewPostgresStoreWithDB(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Init creates the snapshot table when it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*roleSnapshot)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create role_snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*Role, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: role id is empty", contractx.ErrValidation)
	}
	row := new(roleSnapshot)
	if err := s.selectQuery(row, id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", contractx.ErrRoleNotFound, id)
		}
		return nil, fmt.Errorf("select role snapshot: %w", err)
	}
	if row.Payload == nil {
		return nil, fmt.Errorf("%w: %s has empty payload", contractx.ErrRoleNotFound, id)
	}
	return row.Payload, nil
}

func (s *PostgresStore) Save(ctx context.Context, role *Role) error {
	if role == nil || strings.TrimSpace(role.ID) == "" {
		return fmt.Errorf("%w: role is nil or has no id", contractx.ErrValidation)
	}
	if _, err := s.upsertQuery(role).Exec(ctx); err != nil {
		return fmt.Errorf("upsert role snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.deleteQuery(id).Exec(ctx); err != nil {
		return fmt.Errorf("delete role snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) selectQuery(row *roleSnapshot, id string) *bun.SelectQuery {
	return s.db.NewSelect().Model(row).Where("id = ?", id).Limit(1)
}

func (s *PostgresStore) upsertQuery(role *Role) *bun.InsertQuery {
	row := &roleSnapshot{
		ID:        role.ID,
		Payload:   role,
		UpdatedAt: s.now().UTC(),
	}
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at")
}

func (s *PostgresStore) deleteQuery(id string) *bun.DeleteQuery {
	return s.db.NewDelete().Model((*roleSnapshot)(nil)).Where("id = ?", id)
}
