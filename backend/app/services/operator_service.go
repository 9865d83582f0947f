package services

import (
	"context"
	"errors"

	jwtutil "dutlab/backend/app/jwt"
	"dutlab/backend/app/models"
	"dutlab/backend/app/repo"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type OperatorService struct{ operators *repo.OperatorRepository }

func NewOperatorService(operators *repo.OperatorRepository) *OperatorService {
	return &OperatorService{operators: operators}
}

// EnsureAdmin seeds the first admin account when it does not exist yet.
func (s *OperatorService) EnsureAdmin(ctx context.Context, username, password string) error {
	count, err := s.operators.CountByUsername(ctx, username)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.CreateOperator(ctx, username, password, jwtutil.RoleAdmin)
}

func (s *OperatorService) CreateOperator(ctx context.Context, username, password, role string) error {
	if role == "" {
		role = "operator"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.operators.Create(ctx, &models.Operator{Username: username, PasswordHash: string(hash), Role: role})
}

func (s *OperatorService) ValidateCredentials(ctx context.Context, username, password string) (*models.Operator, error) {
	o, err := s.operators.FindByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return o, nil
}
