package repository

import (
	"context"
	"errors"
	"fmt"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/pricing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProductRepository interface {
	Seed(ctx context.Context) error
	Create(ctx context.Context, product *model.Product) error
	FindByID(ctx context.Context, productID string) (*model.Product, error)
}

type productRepoImpl struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepoImpl{
		db: db,
	}
}

func (r *productRepoImpl) Seed(ctx context.Context) error {
	products := []model.Product{
		{ID: "prod_icons", SellerID: "seller-001", Title: "Line icon pack", BasePrice: money.MustParse("29.99"), Currency: "USD", DefaultLicense: pricing.LicensePersonal, Status: model.ProductPublished, IsActive: true},
		{ID: "prod_fonts", SellerID: "seller-001", Title: "Display font family", BasePrice: money.MustParse("49.00"), Currency: "USD", DefaultLicense: pricing.LicenseCommercial, ServiceFeePercent: decimal.NewNullDecimal(decimal.RequireFromString("12.5")), Status: model.ProductPublished, IsActive: true},
		{ID: "prod_ui_kit", SellerID: "seller-002", Title: "Dashboard UI kit", BasePrice: money.MustParse("79.00"), Currency: "USD", DefaultLicense: pricing.LicensePersonal, Status: model.ProductPublished, IsActive: true},
		{ID: "prod_retired", SellerID: "seller-002", Title: "Legacy mockups", BasePrice: money.MustParse("9.99"), Currency: "USD", DefaultLicense: pricing.LicensePersonal, Status: model.ProductSuspended, IsActive: false},
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error
}

func (r *productRepoImpl) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepoImpl) FindByID(ctx context.Context, productID string) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("product %s: %w", productID, apperr.ErrProductNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &product, nil
}
