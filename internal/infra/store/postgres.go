package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yasushisakai/ornot-server/internal/infra/database/models"
)

// PostgresBackend emulates the key-value contract on two tables.
type PostgresBackend struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgresBackend(db *gorm.DB) *PostgresBackend {
	return &PostgresBackend{db: db, now: time.Now}
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.Entry
	err := b.db.WithContext(ctx).
		Where("entry_key = ?", key).
		Where("expires_at IS NULL OR expires_at > ?", b.now()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := models.Entry{
		Key:   key,
		Value: value,
	}
	if ttl > 0 {
		expiresAt := b.now().Add(ttl)
		entry.ExpiresAt = &expiresAt
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "m_date"}),
	}).Create(&entry).Error
}

func (b *PostgresBackend) Del(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Delete(&models.Entry{}, "entry_key = ?", key).Error
}

func (b *PostgresBackend) SAdd(ctx context.Context, set, member string) error {
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&models.SetMember{SetKey: set, Member: member}).Error
}

func (b *PostgresBackend) SRem(ctx context.Context, set, member string) error {
	return b.db.WithContext(ctx).
		Delete(&models.SetMember{}, "set_key = ? AND member = ?", set, member).Error
}

func (b *PostgresBackend) SMembers(ctx context.Context, set string) ([]string, error) {
	members := []string{}
	err := b.db.WithContext(ctx).
		Model(&models.SetMember{}).
		Where("set_key = ?", set).
		Order("member").
		Pluck("member", &members).Error
	return members, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (b *PostgresBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := b.db.WithContext(ctx).
		Model(&models.Entry{}).
		Where("entry_key LIKE ?", likeEscaper.Replace(prefix)+"%").
		Where("expires_at IS NULL OR expires_at > ?", b.now()).
		Order("entry_key").
		Pluck("entry_key", &keys).Error
	return keys, err
}

func (b *PostgresBackend) Atomically(ctx context.Context, fn func(tx Backend) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresBackend{db: tx, now: b.now})
	})
}

// PurgeExpired deletes entries whose lifetime has passed.
func (b *PostgresBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res := b.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", b.now()).
		Delete(&models.Entry{})
	return res.RowsAffected, res.Error
}

func (b *PostgresBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ Backend    = (*PostgresBackend)(nil)
	_ Transactor = (*PostgresBackend)(nil)
	_ Scanner    = (*PostgresBackend)(nil)
)
