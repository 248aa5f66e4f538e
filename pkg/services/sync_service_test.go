package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reorder-api/pkg/models"
)

type pagedSource struct {
	orders  []models.Order
	fail    bool
	since   time.Time
	offsets []int
}

func (p *pagedSource) GetOrderHistory(_ context.Context, limit, offset int, since time.Time) ([]models.Order, error) {
	if p.fail {
		return nil, errors.New("service unavailable")
	}
	p.since = since
	p.offsets = append(p.offsets, offset)
	if offset >= len(p.orders) {
		return nil, nil
	}
	end := offset + limit
	if end > len(p.orders) {
		end = len(p.orders)
	}
	return p.orders[offset:end], nil
}

func generatedOrders(n int) []models.Order {
	orders := make([]models.Order, n)
	for i := range orders {
		orders[i] = models.Order{
			ID:        fmt.Sprintf("o%03d", i),
			OrderDate: day(i),
			Lines: []models.OrderLine{
				{ItemID: fmt.Sprintf("item%d", i%7), ItemName: "Item", Quantity: 1},
			},
		}
	}
	return orders
}

func TestSyncService_PagesUntilShortPage(t *testing.T) {
	store := newTestStore(t)
	source := &pagedSource{orders: generatedOrders(120)}
	svc := NewSyncService(source, store, SyncOptions{})
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	result, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 120, result.OrdersSynced)
	assert.Equal(t, 120, result.TotalOrders)
	assert.Equal(t, 7, result.UniqueItems)
	assert.Equal(t, []int{0, 50, 100}, source.offsets)
	assert.Equal(t, now.AddDate(0, 0, -30), source.since)
}

func TestSyncService_FullSyncWindow(t *testing.T) {
	store := newTestStore(t)
	source := &pagedSource{orders: generatedOrders(3)}
	svc := NewSyncService(source, store, SyncOptions{FullSyncDays: 90})
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -90), source.since)
}

func TestSyncService_ResyncIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	source := &pagedSource{orders: generatedOrders(10)}
	svc := NewSyncService(source, store, SyncOptions{PageSize: 4})

	_, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)
	result, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 10, result.OrdersSynced)
	assert.Equal(t, 10, result.TotalOrders)
}

func TestSyncService_SourceError(t *testing.T) {
	svc := NewSyncService(&pagedSource{fail: true}, newTestStore(t), SyncOptions{})

	_, err := svc.Sync(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
}
