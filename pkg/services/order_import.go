package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

// ErrUnsupportedFormat is returned for files that are neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported file format: upload .xlsx or .csv")

// Accepted header names per column, compared after normalizeHeader.
var (
	orderIDHeaders   = []string{"order_id", "order id", "orderid", "order", "注文id", "注文番号"}
	dateHeaders      = []string{"order_date", "date", "order date", "purchased_at", "日付", "注文日"}
	itemIDHeaders    = []string{"item_id", "item id", "product_id", "product id", "sku", "商品id", "商品コード"}
	itemNameHeaders  = []string{"item_name", "item name", "product_name", "product name", "name", "item", "product", "商品名"}
	quantityHeaders  = []string{"quantity", "qty", "count", "数量"}
	priceHeaders     = []string{"unit_price", "price", "unit price", "単価", "価格"}
	categoryHeaders  = []string{"category", "カテゴリ"}
	brandHeaders     = []string{"brand", "ブランド"}
	importDateLayout = []string{
		"2006-01-02",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"2006/1/2",
		"01/02/2006",
		"02.01.2006",
		"Jan 2, 2006",
		"2 Jan 2006",
	}
)

// ImportReport summarises a file import.
type ImportReport struct {
	FileName    string   `json:"file_name"`
	RowsRead    int      `json:"rows_read"`
	RowsSkipped int      `json:"rows_skipped"`
	Orders      int      `json:"orders"`
	Errors      []string `json:"errors,omitempty"`
}

const maxReportedImportErrors = 20

func (r *ImportReport) skip(row int, format string, args ...interface{}) {
	r.RowsSkipped++
	if len(r.Errors) < maxReportedImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %s", row, fmt.Sprintf(format, args...)))
	}
}

// OrderImportService 注文履歴ファイル (CSV/XLSX) の取り込み
type OrderImportService struct {
	newID func() string
}

// NewOrderImportService creates an importer.
func NewOrderImportService() *OrderImportService {
	return &OrderImportService{newID: func() string { return uuid.NewString() }}
}

type importColumns struct {
	orderID, date, itemID, itemName, quantity, price, category, brand int
}

// ParseFile reads order lines from a .csv or .xlsx file and groups them into orders.
// Rows are grouped by order id, or by date when the file has no order id column.
// Malformed rows are skipped and reported.
func (s *OrderImportService) ParseFile(name string, r io.Reader) ([]models.Order, ImportReport, error) {
	report := ImportReport{FileName: filepath.Base(name)}

	rows, err := readRows(name, r)
	if err != nil {
		return nil, report, err
	}
	if len(rows) < 2 {
		return nil, report, errors.New("file needs a header row and at least one data row")
	}

	header := normalizeHeader(rows[0])
	cols := importColumns{
		orderID:  findIndex(header, orderIDHeaders),
		date:     findIndex(header, dateHeaders),
		itemID:   findIndex(header, itemIDHeaders),
		itemName: findIndex(header, itemNameHeaders),
		quantity: findIndex(header, quantityHeaders),
		price:    findIndex(header, priceHeaders),
		category: findIndex(header, categoryHeaders),
		brand:    findIndex(header, brandHeaders),
	}

	var missing []string
	if cols.date == -1 {
		missing = append(missing, "date")
	}
	if cols.itemID == -1 && cols.itemName == -1 {
		missing = append(missing, "item_id or item_name")
	}
	if len(missing) > 0 {
		return nil, report, fmt.Errorf("required columns not found: %s (header: %v)", strings.Join(missing, ", "), rows[0])
	}

	type group struct {
		id    string
		date  time.Time
		lines []models.OrderLine
	}
	groups := make(map[string]*group)
	var keys []string

	for i, row := range rows[1:] {
		rowNum := i + 2
		if isBlankRow(row) {
			continue
		}
		report.RowsRead++

		dateStr := cell(row, cols.date)
		orderDate, ok := parseAnyDate(dateStr, importDateLayout)
		if !ok {
			report.skip(rowNum, "unparseable date %q", dateStr)
			continue
		}

		line, err := parseImportLine(row, cols)
		if err != nil {
			report.skip(rowNum, "%v", err)
			continue
		}

		key := cell(row, cols.orderID)
		if key == "" {
			key = orderDate.Format("2006-01-02")
		}
		g, ok := groups[key]
		if !ok {
			id := cell(row, cols.orderID)
			if id == "" {
				id = s.newID()
			}
			g = &group{id: id, date: orderDate}
			groups[key] = g
			keys = append(keys, key)
		}
		g.lines = append(g.lines, line)
	}

	orders := make([]models.Order, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		o, err := models.NewOrder(g.id, g.date, g.lines)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		orders = append(orders, o)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].OrderDate.Before(orders[j].OrderDate) })
	report.Orders = len(orders)

	logging.Info().
		Str("file", report.FileName).
		Int("rows", report.RowsRead).
		Int("skipped", report.RowsSkipped).
		Int("orders", report.Orders).
		Msg("order history imported")

	return orders, report, nil
}

func readRows(name string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read Excel file: %w", err)
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("failed to read Excel rows: %w", err)
		}
		return rows, nil
	case ".csv":
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV file: %w", err)
		}
		return rows, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func parseImportLine(row []string, cols importColumns) (models.OrderLine, error) {
	line := models.OrderLine{
		ItemID:   cell(row, cols.itemID),
		ItemName: cell(row, cols.itemName),
		Quantity: 1,
		Category: cell(row, cols.category),
		Brand:    cell(row, cols.brand),
	}
	if line.ItemID == "" {
		line.ItemID = itemKeyFromName(line.ItemName)
	}
	if line.ItemName == "" {
		line.ItemName = line.ItemID
	}

	if raw := cell(row, cols.quantity); raw != "" {
		f, err := strconv.ParseFloat(filterNumeric(raw), 64)
		// spreadsheets store whole counts as "2.0"; anything fractional is rejected
		if err != nil || f != math.Trunc(f) {
			return models.OrderLine{}, fmt.Errorf("invalid quantity %q", raw)
		}
		line.Quantity = int(f)
	}

	if raw := cell(row, cols.price); raw != "" {
		price, err := decimal.NewFromString(filterNumeric(raw))
		if err != nil {
			return models.OrderLine{}, fmt.Errorf("invalid price %q", raw)
		}
		line.UnitPrice = &price
	}

	if err := line.Validate(); err != nil {
		return models.OrderLine{}, err
	}
	return line, nil
}

// itemKeyFromName derives a stable id for files that only carry names.
func itemKeyFromName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseAnyDate tries each layout, then again on the date part of a timestamp.
func parseAnyDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendarDay(t), true
		}
	}
	if i := strings.IndexAny(s, " T"); i > 0 {
		part := s[:i]
		for _, layout := range layouts {
			if t, err := time.Parse(layout, part); err == nil {
				return calendarDay(t), true
			}
		}
	}
	return time.Time{}, false
}

func normalizeHeader(hdr []string) []string {
	out := make([]string, len(hdr))
	for i, v := range hdr {
		// UTF-8 BOM from Excel exports
		v = strings.TrimPrefix(v, "\ufeff")
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func findIndex(hdr []string, candidates []string) int {
	for i, v := range hdr {
		for _, c := range candidates {
			if v == c {
				return i
			}
		}
	}
	return -1
}

// filterNumeric keeps digits, dot and minus so "₹1,299.00" parses as 1299.00.
func filterNumeric(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b = append(b, r)
		}
	}
	return string(b)
}
