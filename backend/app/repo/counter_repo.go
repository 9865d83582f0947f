package repo

import (
	"context"
	"fmt"

	"dutlab/backend/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const jobCounterID = 1

type JobCounterRepository struct{ db *gorm.DB }

func NewJobCounterRepository(db *gorm.DB) *JobCounterRepository {
	return &JobCounterRepository{db: db}
}

// Next reserves the next job id. The read and the increment share one
// transaction, so concurrent submitters never see the same value.
func (r *JobCounterRepository) Next(ctx context.Context) (uint64, error) {
	var id uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "mysql" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var c models.JobIDCounter
		if err := q.Where("counter_id = ?", jobCounterID).First(&c).Error; err != nil {
			return fmt.Errorf("read job counter: %w", err)
		}
		id = c.NextJobID
		return tx.Model(&models.JobIDCounter{}).
			Where("counter_id = ?", jobCounterID).
			Update("next_job_id", gorm.Expr("next_job_id + 1")).Error
	})
	return id, err
}
