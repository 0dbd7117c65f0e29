package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"

	"gorm.io/gorm"
)

type CheckoutRepository interface {
	Create(ctx context.Context, tx *gorm.DB, checkout *model.Checkout) error
	FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Checkout, error)
	Transition(ctx context.Context, tx *gorm.DB, orderID string, from []model.CheckoutState, to model.CheckoutState, fields map[string]interface{}) (bool, error)
	ListStale(ctx context.Context, tx *gorm.DB, states []model.CheckoutState, createdBefore time.Time, limit int) ([]*model.Checkout, error)
}

type checkoutRepoImpl struct{}

func NewCheckoutRepository() CheckoutRepository {
	return &checkoutRepoImpl{}
}

func (r *checkoutRepoImpl) Create(ctx context.Context, tx *gorm.DB, checkout *model.Checkout) error {
	return tx.WithContext(ctx).Create(checkout).Error
}

func (r *checkoutRepoImpl) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Checkout, error) {
	var checkout model.Checkout
	err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&checkout).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checkout %s: %w", orderID, apperr.ErrCheckoutNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &checkout, nil
}

func (r *checkoutRepoImpl) Transition(
	ctx context.Context,
	tx *gorm.DB,
	orderID string,
	from []model.CheckoutState,
	to model.CheckoutState,
	fields map[string]interface{},
) (bool, error) {
	return compareAndSet(ctx, tx, &model.Checkout{}, "order_id", orderID, "state", from, to, fields)
}

func (r *checkoutRepoImpl) ListStale(
	ctx context.Context,
	tx *gorm.DB,
	states []model.CheckoutState,
	createdBefore time.Time,
	limit int,
) ([]*model.Checkout, error) {
	var checkouts []*model.Checkout
	err := page(tx.WithContext(ctx).
		Where("state IN ?", states).
		Where("created_at < ?", createdBefore).
		Order("created_at"), limit, 0).
		Find(&checkouts).Error
	if err != nil {
		return nil, err
	}

	return checkouts, nil
}
