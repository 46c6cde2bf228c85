package settings

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository persists key/value settings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, key string) (*models.Setting, error)
	List(ctx context.Context, keys ...string) ([]models.Setting, error)
	Upsert(ctx context.Context, key, value string, now time.Time) (*models.Setting, error)
}

// "key" is reserved in mysql, so conditions go through gorm's quoting.
type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Get returns nil without error when the key is unset.
func (r *repository) Get(ctx context.Context, key string) (*models.Setting, error) {
	var row models.Setting
	err := r.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) List(ctx context.Context, keys ...string) ([]models.Setting, error) {
	query := r.db.WithContext(ctx).Model(&models.Setting{})
	if len(keys) > 0 {
		query = query.Where(map[string]any{"key": keys})
	}
	var rows []models.Setting
	if err := query.Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Upsert(ctx context.Context, key, value string, now time.Time) (*models.Setting, error) {
	row := models.Setting{Key: key, Value: value, UpdatedAt: now}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
