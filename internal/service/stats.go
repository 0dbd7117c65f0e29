package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/repository"

	"gorm.io/gorm"
)

type MonthlyRevenue struct {
	Month string      `json:"month"` // YYYY-MM
	Sales int         `json:"sales"`
	Net   money.Cents `json:"net"`
}

type SellerStats struct {
	SellerID       string           `json:"sellerId"`
	CompletedSales int              `json:"completedSales"`
	RefundedSales  int              `json:"refundedSales"`
	Gross          money.Cents      `json:"gross"`
	Fees           money.Cents      `json:"fees"`
	Net            money.Cents      `json:"net"`
	Monthly        []MonthlyRevenue `json:"monthly"`
}

type DailyEarnings struct {
	Day    string      `json:"day"` // YYYY-MM-DD
	Orders int         `json:"orders"`
	Fees   money.Cents `json:"fees"`
}

type PlatformEarnings struct {
	From   time.Time       `json:"from"`
	To     time.Time       `json:"to"`
	Orders int             `json:"orders"`
	Fees   money.Cents     `json:"fees"`
	Daily  []DailyEarnings `json:"daily"`
}

// StatsService computes dashboard figures from the orders table on every
// call; nothing here is stored.
type StatsService interface {
	SellerStats(ctx context.Context, sellerID string) (*SellerStats, error)
	PlatformEarnings(ctx context.Context, from, to time.Time) (*PlatformEarnings, error)
}

type statsServiceImpl struct {
	db        *gorm.DB
	orderRepo repository.OrderRepository
}

func NewStatsService(db *gorm.DB, orderRepo repository.OrderRepository) StatsService {
	return &statsServiceImpl{db: db, orderRepo: orderRepo}
}

func (s *statsServiceImpl) SellerStats(ctx context.Context, sellerID string) (*SellerStats, error) {
	orders, err := s.orderRepo.List(ctx, s.db, repository.OrderFilter{
		SellerID: sellerID,
		Statuses: []model.OrderStatus{model.OrderCompleted, model.OrderRefunded},
	})
	if err != nil {
		return nil, fmt.Errorf("list seller orders: %w", err)
	}

	stats := &SellerStats{SellerID: sellerID, Monthly: []MonthlyRevenue{}}
	months := map[string]*MonthlyRevenue{}
	for _, o := range orders {
		if o.Status == model.OrderRefunded {
			stats.RefundedSales++
			continue
		}
		stats.CompletedSales++
		stats.Gross += o.Amount
		stats.Fees += o.ServiceFee
		stats.Net += o.SellerAmount

		at := o.CreatedAt
		if o.CompletedAt != nil {
			at = *o.CompletedAt
		}
		key := at.UTC().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthlyRevenue{Month: key}
			months[key] = m
		}
		m.Sales++
		m.Net += o.SellerAmount
	}
	if stats.Gross != stats.Fees+stats.Net {
		return nil, fmt.Errorf("seller %s: gross %s != fees %s + net %s: %w",
			sellerID, stats.Gross, stats.Fees, stats.Net, apperr.ErrIntegrityViolation)
	}

	for _, m := range months {
		stats.Monthly = append(stats.Monthly, *m)
	}
	sort.Slice(stats.Monthly, func(i, j int) bool { return stats.Monthly[i].Month < stats.Monthly[j].Month })
	return stats, nil
}

// PlatformEarnings sums service fees of orders completed in [from, to) that
// have not been refunded.
func (s *statsServiceImpl) PlatformEarnings(ctx context.Context, from, to time.Time) (*PlatformEarnings, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("from %s is not before to %s: %w", from, to, apperr.ErrInvalidRequest)
	}

	orders, err := s.orderRepo.List(ctx, s.db, repository.OrderFilter{
		Statuses:      []model.OrderStatus{model.OrderCompleted},
		CompletedFrom: from,
		CompletedTo:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("list completed orders: %w", err)
	}

	out := &PlatformEarnings{From: from, To: to, Daily: []DailyEarnings{}}
	days := map[string]*DailyEarnings{}
	for _, o := range orders {
		out.Orders++
		out.Fees += o.ServiceFee

		at := o.CreatedAt
		if o.CompletedAt != nil {
			at = *o.CompletedAt
		}
		key := at.UTC().Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &DailyEarnings{Day: key}
			days[key] = d
		}
		d.Orders++
		d.Fees += o.ServiceFee
	}

	for _, d := range days {
		out.Daily = append(out.Daily, *d)
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Day < out.Daily[j].Day })
	return out, nil
}
