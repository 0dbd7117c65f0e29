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

type OrderFilter struct {
	BuyerID  string
	SellerID string
	Statuses []model.OrderStatus
	From     time.Time // created_at >= From, zero means unbounded
	To       time.Time // created_at < To
	// completed_at window, used by earnings reports
	CompletedFrom time.Time
	CompletedTo   time.Time
	Limit         int
	Offset        int
}

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	Transition(ctx context.Context, tx *gorm.DB, orderID string, from []model.OrderStatus, to model.OrderStatus, fields map[string]interface{}) (bool, error)
	IncrementDownload(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
	List(ctx context.Context, tx *gorm.DB, filter OrderFilter) ([]*model.Order, error)
}

type orderRepoImpl struct{}

func NewOrderRepository() OrderRepository {
	return &orderRepoImpl{}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Create(order).Error
}

func (r *orderRepoImpl) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := tx.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) Transition(
	ctx context.Context,
	tx *gorm.DB,
	orderID string,
	from []model.OrderStatus,
	to model.OrderStatus,
	fields map[string]interface{},
) (bool, error) {
	return compareAndSet(ctx, tx, &model.Order{}, "order_id", orderID, "status", from, to, fields)
}

// IncrementDownload bumps download_count only while the order is completed
// and under its cap, in one statement so concurrent callers cannot overshoot.
func (r *orderRepoImpl) IncrementDownload(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			order_id = ?
			AND status = ?
			AND download_count < max_downloads
		`,
			orderID,
			model.OrderCompleted,
		).
		Updates(map[string]interface{}{
			"download_count": gorm.Expr("download_count + 1"),
			"updated_at":     time.Now().UTC(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) List(ctx context.Context, tx *gorm.DB, filter OrderFilter) ([]*model.Order, error) {
	q := tx.WithContext(ctx).Model(&model.Order{})
	if filter.BuyerID != "" {
		q = q.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.SellerID != "" {
		q = q.Where("seller_id = ?", filter.SellerID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To)
	}
	if !filter.CompletedFrom.IsZero() {
		q = q.Where("completed_at >= ?", filter.CompletedFrom)
	}
	if !filter.CompletedTo.IsZero() {
		q = q.Where("completed_at < ?", filter.CompletedTo)
	}

	var orders []*model.Order
	err := page(q.Order("created_at DESC").Order("id"), filter.Limit, filter.Offset).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	return orders, nil
}
