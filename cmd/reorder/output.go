package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"reorder-api/pkg/models"
)

var (
	headerColor  = color.New(color.Bold)
	highColor    = color.New(color.FgGreen)
	mediumColor  = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

// scoreColor: green from 80, yellow from 60.
func scoreColor(score float64) *color.Color {
	switch {
	case score >= 80:
		return highColor
	case score >= 60:
		return mediumColor
	default:
		return nil
	}
}

func printRecommendations(w io.Writer, recs []models.Recommendation, ordersAnalyzed int) {
	if len(recs) == 0 {
		printWarning(w, fmt.Sprintf("No items above the score threshold (%d orders analyzed).", ordersAnalyzed))
		return
	}

	headerColor.Fprintf(w, "%-3s %-28s %6s %4s %-10s %s\n", "#", "ITEM", "SCORE", "QTY", "PRICE", "REASON")
	for i, r := range recs {
		score := fmt.Sprintf("%6.1f", r.Score)
		if c := scoreColor(r.Score); c != nil {
			score = c.Sprint(score)
		}
		price := "-"
		if !r.Available {
			price = "n/a"
		} else if r.CurrentPrice != nil {
			price = r.CurrentPrice.StringFixed(2)
		}
		fmt.Fprintf(w, "%-3d %-28s %s %4d %-10s %s\n",
			i+1, truncateName(r.ItemName, 28), score, r.SuggestedQuantity, price, r.Reasoning)
	}
	fmt.Fprintf(w, "\n%d recommendations from %d orders\n", len(recs), ordersAnalyzed)
}

func printBasketResult(w io.Writer, result models.BasketResult) {
	for _, a := range result.Added {
		printSuccess(w, fmt.Sprintf("added %d x %s", a.Quantity, a.ItemName))
	}
	for _, f := range result.Failed {
		printWarning(w, fmt.Sprintf("skipped %s: %s", f.ItemName, f.Reason))
	}
	fmt.Fprintf(w, "Added %d items, estimated total %s\n", len(result.Added), result.TotalPrice.StringFixed(2))
}

func printBasket(w io.Writer, basket models.Basket) {
	if len(basket.Items) == 0 {
		fmt.Fprintln(w, "Basket is empty")
		return
	}
	headerColor.Fprintf(w, "%-28s %4s %10s\n", "ITEM", "QTY", "PRICE")
	for _, item := range basket.Items {
		price := "-"
		if item.Price != nil {
			price = item.Price.StringFixed(2)
		}
		fmt.Fprintf(w, "%-28s %4d %10s\n", truncateName(item.ItemName, 28), item.Quantity, price)
	}
	fmt.Fprintf(w, "Total: %s\n", basket.Total.StringFixed(2))
}

func printHistory(w io.Writer, entries []models.RecommendationLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recommendations recorded yet")
		return
	}
	headerColor.Fprintf(w, "%-16s %-28s %6s %-9s %s\n", "WHEN", "ITEM", "SCORE", "ACTION", "REASON")
	for _, e := range entries {
		action := e.Action
		switch action {
		case models.ActionAccepted:
			action = successColor.Sprintf("%-9s", action)
		case models.ActionRejected:
			action = errorColor.Sprintf("%-9s", action)
		default:
			action = fmt.Sprintf("%-9s", action)
		}
		fmt.Fprintf(w, "%-16s %-28s %6.1f %s %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), truncateName(e.ItemName, 28), e.Score, action, e.Reason)
	}
}

func truncateName(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func printSuccess(w io.Writer, msg string) { successColor.Fprintln(w, msg) }
func printWarning(w io.Writer, msg string) { warningColor.Fprintln(w, msg) }
func printError(w io.Writer, err error)    { errorColor.Fprintf(w, "Error: %v\n", err) }
