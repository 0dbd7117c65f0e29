package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/repository"

	"gorm.io/gorm"
)

type OrderService interface {
	Get(ctx context.Context, orderID string) (*model.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, error)
	// TransitionTx applies one edge of the order state machine inside tx.
	TransitionTx(ctx context.Context, tx *gorm.DB, orderID string, to model.OrderStatus, fields map[string]interface{}) (*model.Order, error)
	RecordDownload(ctx context.Context, orderID string) (*model.Order, error)
	Refund(ctx context.Context, orderID, reason string) (*model.Order, error)
}

type orderServiceImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	walletRepo    repository.WalletRepository
	walletService WalletService
	notifier      notify.Notifier
	now           func() time.Time
}

func NewOrderService(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	walletRepo repository.WalletRepository,
	walletService WalletService,
	notifier notify.Notifier,
	now func() time.Time,
) OrderService {
	return &orderServiceImpl{
		db:            db,
		orderRepo:     orderRepo,
		walletRepo:    walletRepo,
		walletService: walletService,
		notifier:      notifier,
		now:           now,
	}
}

func (s *orderServiceImpl) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orderRepo.FindByOrderID(ctx, s.db, orderID)
}

func (s *orderServiceImpl) List(ctx context.Context, filter repository.OrderFilter) ([]*model.Order, error) {
	return s.orderRepo.List(ctx, s.db, filter)
}

func (s *orderServiceImpl) TransitionTx(
	ctx context.Context,
	tx *gorm.DB,
	orderID string,
	to model.OrderStatus,
	fields map[string]interface{},
) (*model.Order, error) {
	order, err := s.orderRepo.FindByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("order %s %s -> %s: %w", orderID, order.Status, to, apperr.ErrInvalidOrderTransition)
	}

	ok, err := s.orderRepo.Transition(ctx, tx, orderID, []model.OrderStatus{order.Status}, to, fields)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		// lost a race with another writer
		return nil, fmt.Errorf("order %s changed concurrently: %w", orderID, apperr.ErrInvalidOrderTransition)
	}

	return s.orderRepo.FindByOrderID(ctx, tx, orderID)
}

func (s *orderServiceImpl) RecordDownload(ctx context.Context, orderID string) (*model.Order, error) {
	var order *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRepo.IncrementDownload(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("increment download: %w", err)
		}

		order, err = s.orderRepo.FindByOrderID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if order.Status != model.OrderCompleted {
			return fmt.Errorf("order %s is %s: %w", orderID, order.Status, apperr.ErrOrderNotDownloadable)
		}
		return fmt.Errorf("order %s used %d of %d downloads: %w",
			orderID, order.DownloadCount, order.MaxDownloads, apperr.ErrDownloadLimitExceeded)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Refund reverses a completed order. The seller's proceeds are taken back
// (cancelled outright while still clearing) and the buyer is credited the
// full amount, all in one transaction.
func (s *orderServiceImpl) Refund(ctx context.Context, orderID, reason string) (*model.Order, error) {
	var order *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.orderRepo.FindByOrderID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.Status != model.OrderCompleted {
			return fmt.Errorf("order %s is %s: %w", orderID, current.Status, apperr.ErrOrderNotRefundable)
		}

		now := s.now()
		order, err = s.TransitionTx(ctx, tx, orderID, model.OrderRefunded, map[string]interface{}{
			"refund_reason": reason,
			"refunded_at":   now,
		})
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPrecondition {
				return fmt.Errorf("order %s: %w", orderID, apperr.ErrOrderNotRefundable)
			}
			return err
		}

		if err := s.reverseSale(ctx, tx, order); err != nil {
			return err
		}

		_, err = s.walletService.AppendTx(ctx, tx, AppendRequest{
			UserID:      order.BuyerID,
			Amount:      order.Amount,
			Type:        model.TxRefund,
			Direction:   model.Credit,
			Status:      model.TxCompleted,
			OrderID:     order.OrderID,
			Description: fmt.Sprintf("Refund for order %s", order.OrderID),
		})
		if err != nil {
			return fmt.Errorf("credit buyer refund: %w", err)
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			slog.ErrorContext(ctx, "refund aborted", "order_id", orderID, "error", err)
		}
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.EventOrderRefunded,
		OrderID:  order.OrderID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		Amount:   order.Amount,
	})
	return order, nil
}

func (s *orderServiceImpl) reverseSale(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	sale, err := s.walletRepo.FindByOrder(ctx, tx, order.SellerID, order.OrderID, model.TxSale)
	if err != nil {
		return fmt.Errorf("find sale entry: %w", err)
	}
	if sale == nil {
		return fmt.Errorf("completed order %s has no sale entry: %w", order.OrderID, apperr.ErrIntegrityViolation)
	}

	switch sale.Status {
	case model.TxPending:
		// still inside the clearing window: the proceeds never became available
		ok, err := s.walletService.SettleTx(ctx, tx, sale, model.TxFailed)
		if err != nil {
			return fmt.Errorf("cancel pending sale: %w", err)
		}
		if ok {
			return nil
		}
		// cleared between our read and the update; fall through to a debit
	case model.TxFailed:
		return fmt.Errorf("sale entry for completed order %s is failed: %w", order.OrderID, apperr.ErrIntegrityViolation)
	}

	_, err = s.walletService.AppendTx(ctx, tx, AppendRequest{
		UserID:      order.SellerID,
		Amount:      order.SellerAmount,
		Type:        model.TxRefund,
		Direction:   model.Debit,
		Status:      model.TxCompleted,
		OrderID:     order.OrderID,
		Description: fmt.Sprintf("Refund issued for order %s", order.OrderID),
	})
	if err != nil {
		return fmt.Errorf("debit seller refund: %w", err)
	}
	return nil
}
