package repo

import (
	"context"
	"errors"

	"dutlab/backend/app/models"

	"gorm.io/gorm"
)

// LogRepository is append-only: there is no update or delete.
type LogRepository struct{ db *gorm.DB }

func NewLogRepository(db *gorm.DB) *LogRepository { return &LogRepository{db: db} }

func (r *LogRepository) Append(ctx context.Context, rec *models.LogRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

type LogFilter struct {
	DeviceID *int
	TestName string
	Limit    int
}

// List returns matching records oldest first.
func (r *LogRepository) List(ctx context.Context, f LogFilter) ([]models.LogRecord, error) {
	q := r.db.WithContext(ctx)
	if f.DeviceID != nil {
		q = q.Where("device_id = ?", *f.DeviceID)
	}
	if f.TestName != "" {
		q = q.Where("test_name = ?", f.TestName)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var recs []models.LogRecord
	err := q.Order("id ASC").Find(&recs).Error
	return recs, err
}

// Get returns the record for jobID, or nil when none exists.
func (r *LogRepository) Get(ctx context.Context, jobID uint64) (*models.LogRecord, error) {
	var rec models.LogRecord
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
