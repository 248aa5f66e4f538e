package services

import (
	"fmt"
	"time"

	"reorder-api/pkg/models"
)

var baseDate = time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)

func day(n int) time.Time {
	return baseDate.AddDate(0, 0, n)
}

// purchases builds one single-line order per day offset.
func purchases(itemID, name string, qty int, days ...int) []models.Order {
	orders := make([]models.Order, 0, len(days))
	for _, d := range days {
		orders = append(orders, models.Order{
			ID:        fmt.Sprintf("%s-%d", itemID, d),
			OrderDate: day(d),
			Lines: []models.OrderLine{
				{ItemID: itemID, ItemName: name, Quantity: qty},
			},
		})
	}
	return orders
}

func concatOrders(groups ...[]models.Order) []models.Order {
	var out []models.Order
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
