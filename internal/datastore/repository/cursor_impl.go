package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coldwatch/coldwatch/internal/datastore/entities"
	"github.com/coldwatch/coldwatch/internal/errors"
)

// cursorRepository implements CursorRepository.
type cursorRepository struct {
	db *gorm.DB
}

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Load(ctx context.Context, name string) (int64, error) {
	var cursor entities.PollerCursor
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&cursor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Storage("load cursor", fmt.Errorf("failed to load cursor %q: %w", name, err))
	}
	return cursor.Offset, nil
}

func (r *cursorRepository) Save(ctx context.Context, name string, offset int64) error {
	cursor := entities.PollerCursor{Name: name, Offset: offset, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"update_offset", "updated_at"}),
		}).
		Create(&cursor).Error
	if err != nil {
		return errors.Storage("save cursor", fmt.Errorf("failed to save cursor %q: %w", name, err))
	}
	return nil
}
