package repo

import (
	"context"

	"dutlab/backend/app/models"

	"gorm.io/gorm"
)

type OperatorRepository struct{ db *gorm.DB }

func NewOperatorRepository(db *gorm.DB) *OperatorRepository { return &OperatorRepository{db: db} }

func (r *OperatorRepository) CountByUsername(ctx context.Context, username string) (int64, error) {
	var count int64
	return count, r.db.WithContext(ctx).Model(&models.Operator{}).Where("username = ?", username).Count(&count).Error
}

func (r *OperatorRepository) Create(ctx context.Context, o *models.Operator) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OperatorRepository) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var o models.Operator
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}
