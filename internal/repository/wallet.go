package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Delta is a signed change to the buckets of a wallet account.
type Delta struct {
	Available money.Cents
	Pending   money.Cents
	Reserved  money.Cents
}

type TransactionFilter struct {
	Types    []model.TransactionType
	Statuses []model.TransactionStatus
	Limit    int
	Offset   int
}

type WalletRepository interface {
	EnsureAccount(ctx context.Context, tx *gorm.DB, userID string) error
	GetAccount(ctx context.Context, tx *gorm.DB, userID string) (*model.WalletAccount, error)
	// ApplyDelta applies d in one guarded statement. It fails with
	// ErrInsufficientBalance, changing nothing, if any bucket or the
	// spendable amount (available - reserved) would drop below zero.
	// With nextSeq it also allocates and returns the user's next sequence.
	ApplyDelta(ctx context.Context, tx *gorm.DB, userID string, d Delta, nextSeq bool) (int64, error)
	Insert(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, filter TransactionFilter) ([]*model.WalletTransaction, error)
	// FoldSource returns every transaction of the user in sequence order.
	FoldSource(ctx context.Context, tx *gorm.DB, userID string) ([]*model.WalletTransaction, error)
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.WalletTransaction, error)
	FindByOrder(ctx context.Context, tx *gorm.DB, userID, orderID string, typ model.TransactionType) (*model.WalletTransaction, error)
	ListPendingSales(ctx context.Context, tx *gorm.DB, createdBefore time.Time, limit int) ([]*model.WalletTransaction, error)
	TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.TransactionStatus) (bool, error)
	ListUserIDs(ctx context.Context, tx *gorm.DB) ([]string, error)
}

type walletRepoImpl struct{}

func NewWalletRepository() WalletRepository {
	return &walletRepoImpl{}
}

func (r *walletRepoImpl) EnsureAccount(ctx context.Context, tx *gorm.DB, userID string) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.WalletAccount{UserID: userID}).Error
}

func (r *walletRepoImpl) GetAccount(ctx context.Context, tx *gorm.DB, userID string) (*model.WalletAccount, error) {
	var acc model.WalletAccount
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.WalletAccount{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *walletRepoImpl) ApplyDelta(ctx context.Context, tx *gorm.DB, userID string, d Delta, nextSeq bool) (int64, error) {
	var bump int64
	if nextSeq {
		bump = 1
	}

	result := tx.WithContext(ctx).Model(&model.WalletAccount{}).
		Where("user_id = ?", userID).
		Where("available + ? >= 0", d.Available).
		Where("pending + ? >= 0", d.Pending).
		Where("reserved + ? >= 0", d.Reserved).
		Where("(available + ?) - (reserved + ?) >= 0", d.Available, d.Reserved).
		Updates(map[string]interface{}{
			"available":  gorm.Expr("available + ?", d.Available),
			"pending":    gorm.Expr("pending + ?", d.Pending),
			"reserved":   gorm.Expr("reserved + ?", d.Reserved),
			"last_seq":   gorm.Expr("last_seq + ?", bump),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("wallet %s: %w", userID, apperr.ErrInsufficientBalance)
	}
	if !nextSeq {
		return 0, nil
	}

	// the row stays locked by the update until commit, so this is our value
	var acc model.WalletAccount
	if err := tx.WithContext(ctx).Select("last_seq").Where("user_id = ?", userID).Take(&acc).Error; err != nil {
		return 0, fmt.Errorf("read wallet seq: %w", err)
	}
	return acc.LastSeq, nil
}

func (r *walletRepoImpl) Insert(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

func (r *walletRepoImpl) ListByUser(ctx context.Context, tx *gorm.DB, userID string, filter TransactionFilter) ([]*model.WalletTransaction, error) {
	q := tx.WithContext(ctx).Where("user_id = ?", userID)
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}

	var txs []*model.WalletTransaction
	if err := page(q.Order("seq DESC"), filter.Limit, filter.Offset).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *walletRepoImpl) FoldSource(ctx context.Context, tx *gorm.DB, userID string) ([]*model.WalletTransaction, error) {
	var txs []*model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("seq").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *walletRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	err := tx.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("wallet transaction %s: %w", id, apperr.ErrTransactionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *walletRepoImpl) FindByOrder(ctx context.Context, tx *gorm.DB, userID, orderID string, typ model.TransactionType) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND order_id = ? AND type = ?", userID, orderID, typ).
		Order("seq").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *walletRepoImpl) ListPendingSales(ctx context.Context, tx *gorm.DB, createdBefore time.Time, limit int) ([]*model.WalletTransaction, error) {
	var txs []*model.WalletTransaction
	err := page(tx.WithContext(ctx).
		Where("type = ? AND status = ?", model.TxSale, model.TxPending).
		Where("created_at <= ?", createdBefore).
		Order("created_at"), limit, 0).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *walletRepoImpl) TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.TransactionStatus) (bool, error) {
	return compareAndSet(ctx, tx, &model.WalletTransaction{}, "id", id, "status", []model.TransactionStatus{from}, to, nil)
}

func (r *walletRepoImpl) ListUserIDs(ctx context.Context, tx *gorm.DB) ([]string, error) {
	var ids []string
	err := tx.WithContext(ctx).Model(&model.WalletAccount{}).Order("user_id").Pluck("user_id", &ids).Error
	return ids, err
}
