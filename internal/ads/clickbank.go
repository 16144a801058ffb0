package ads

import (
	"context"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/mediaforge/mediaforge/pkg/models"
)

var ErrMissingColumn = errors.New("clickbank csv: missing required column")

// OfferStore persists imported offers.
type OfferStore interface {
	UpsertOffer(ctx context.Context, offer *models.Offer) error
}

// ImportReport counts the rows of one ClickBank import.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// GenerateClickbankID derives a stable offer id. The vendor nickname is
// unique on ClickBank; offers without one fall back to a title hash.
func GenerateClickbankID(vendor, title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(vendor) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		return "cb_" + b.String()
	}

	normalized := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	sum := sha1.Sum([]byte(normalized))
	return "cb_" + hex.EncodeToString(sum[:])[:12]
}

// ImportClickbankCSV reads a marketplace export with a header row and upserts
// one offer per row. Rows without a title or with unparsable numbers are
// skipped and counted.
func ImportClickbankCSV(ctx context.Context, st OfferStore, r io.Reader) (ImportReport, error) {
	var report ImportReport
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return report, fmt.Errorf("reading csv header: %w", err)
	}
	cols := indexColumns(header)
	if _, ok := cols["title"]; !ok {
		return report, fmt.Errorf("%w: Title", ErrMissingColumn)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				report.Skipped++
				continue
			}
			return report, fmt.Errorf("reading csv: %w", err)
		}

		offer, ok := parseOffer(record, cols)
		if !ok {
			report.Skipped++
			continue
		}
		if err := st.UpsertOffer(ctx, offer); err != nil {
			return report, err
		}
		report.Imported++
	}
	return report, nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.NewReplacer(" ", "", "_", "").Replace(key)
		cols[key] = i
	}
	return cols
}

func parseOffer(record []string, cols map[string]int) (*models.Offer, bool) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	title := field("title")
	if title == "" {
		return nil, false
	}
	gravity, ok := parseNumber(field("gravity"))
	if !ok {
		return nil, false
	}
	payout, ok := parseNumber(field("avgpayout"))
	if !ok {
		return nil, false
	}

	vendor := field("vendor")
	var rawCategory *string
	if c := field("category"); c != "" {
		rawCategory = &c
	}
	category := ParseCategory(rawCategory)

	return &models.Offer{
		ID:           GenerateClickbankID(vendor, title),
		Vendor:       vendor,
		Title:        title,
		CategoryMain: category.Main,
		CategorySub:  category.Sub,
		Gravity:      gravity,
		AvgPayout:    payout,
	}, true
}

// parseNumber accepts "", "12.5", "$1,234.50". Empty means zero.
func parseNumber(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
