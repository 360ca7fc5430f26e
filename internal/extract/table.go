// Package extract pulls table rows out of rendered result pages.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultRowSelector matches the body rows of the exchange's results table.
const DefaultRowSelector = "#resultsTable > tbody > tr"

// TableExtractor implements crawler.RowExtractor with goquery selectors.
type TableExtractor struct {
	rowSelector  string
	cellSelector string
}

// NewTableExtractor builds an extractor; an empty selector falls back to the default.
func NewTableExtractor(rowSelector string) *TableExtractor {
	if strings.TrimSpace(rowSelector) == "" {
		rowSelector = DefaultRowSelector
	}
	return &TableExtractor{
		rowSelector:  rowSelector,
		cellSelector: "td",
	}
}

// Extract returns each matching row as its ordered, trimmed cell texts.
// Rows without data cells (header rows rendered inside tbody) are dropped.
func (e *TableExtractor) Extract(markup string) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	rows := make([][]string, 0)
	doc.Find(e.rowSelector).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find(e.cellSelector)
		if cells.Length() == 0 {
			return
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, td *goquery.Selection) {
			row = append(row, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, row)
	})
	return rows, nil
}
