package repository

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"

	"gorm.io/gorm"
)

type WithdrawalRepository interface {
	Create(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error)
	Transition(ctx context.Context, tx *gorm.DB, id string, from []model.WithdrawalStatus, to model.WithdrawalStatus, fields map[string]interface{}) (bool, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*model.WithdrawalRequest, error)
	// SumActive totals the gross amount of pending and processing requests.
	SumActive(ctx context.Context, tx *gorm.DB, userID string) (money.Cents, error)
}

type withdrawalRepoImpl struct{}

func NewWithdrawalRepository() WithdrawalRepository {
	return &withdrawalRepoImpl{}
}

func (r *withdrawalRepoImpl) Create(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(w).Error
}

func (r *withdrawalRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := tx.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("withdrawal %s: %w", id, apperr.ErrWithdrawalNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *withdrawalRepoImpl) Transition(
	ctx context.Context,
	tx *gorm.DB,
	id string,
	from []model.WithdrawalStatus,
	to model.WithdrawalStatus,
	fields map[string]interface{},
) (bool, error) {
	return compareAndSet(ctx, tx, &model.WithdrawalRequest{}, "id", id, "status", from, to, fields)
}

func (r *withdrawalRepoImpl) ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit, offset int) ([]*model.WithdrawalRequest, error) {
	var out []*model.WithdrawalRequest
	err := page(tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id"), limit, offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *withdrawalRepoImpl) SumActive(ctx context.Context, tx *gorm.DB, userID string) (money.Cents, error) {
	var total int64
	err := tx.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND status IN ?", userID,
			[]model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalProcessing}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return money.Cents(total), err
}
