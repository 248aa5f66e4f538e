package services

import (
	"context"
	"fmt"
	"time"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// Sync defaults
const (
	DefaultSyncPageSize        = 50
	DefaultIncrementalSyncDays = 30
	DefaultFullSyncDays        = 365
	maxSyncPages               = 200
)

// OrderHistorySource pages through remote order history.
type OrderHistorySource interface {
	GetOrderHistory(ctx context.Context, limit, offset int, since time.Time) ([]models.Order, error)
}

// SyncOptions controls the sync window and paging.
type SyncOptions struct {
	PageSize        int
	IncrementalDays int
	FullSyncDays    int
}

// SyncService 注文履歴の同期
type SyncService struct {
	source OrderHistorySource
	store  OrderStore
	opts   SyncOptions
	now    func() time.Time
}

// NewSyncService creates a sync service; zero options use the defaults.
func NewSyncService(source OrderHistorySource, store OrderStore, opts SyncOptions) *SyncService {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultSyncPageSize
	}
	if opts.IncrementalDays <= 0 {
		opts.IncrementalDays = DefaultIncrementalSyncDays
	}
	if opts.FullSyncDays <= 0 {
		opts.FullSyncDays = DefaultFullSyncDays
	}
	return &SyncService{source: source, store: store, opts: opts, now: time.Now}
}

// Sync pulls orders from the last IncrementalDays (or FullSyncDays when full)
// and stores them. Pages are saved as they arrive.
func (s *SyncService) Sync(ctx context.Context, full bool) (models.SyncResult, error) {
	days := s.opts.IncrementalDays
	if full {
		days = s.opts.FullSyncDays
	}
	since := s.now().AddDate(0, 0, -days)

	logging.Info().Bool("full", full).Int("days", days).Msg("starting order sync")

	var result models.SyncResult
	for page := 0; page < maxSyncPages; page++ {
		orders, err := s.source.GetOrderHistory(ctx, s.opts.PageSize, page*s.opts.PageSize, since)
		if err != nil {
			return result, fmt.Errorf("failed to fetch order history page %d: %w", page, err)
		}
		if len(orders) > 0 {
			if err := s.store.SaveOrders(ctx, orders); err != nil {
				return result, fmt.Errorf("failed to save synced orders: %w", err)
			}
			result.OrdersSynced += len(orders)
		}
		if len(orders) < s.opts.PageSize {
			break
		}
	}

	var err error
	if result.TotalOrders, err = s.store.OrderCount(ctx); err != nil {
		return result, err
	}
	if result.UniqueItems, err = s.store.ItemCount(ctx); err != nil {
		return result, err
	}

	logging.Info().
		Int("synced", result.OrdersSynced).
		Int("total_orders", result.TotalOrders).
		Int("unique_items", result.UniqueItems).
		Msg("order sync complete")
	return result, nil
}
