package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
)

// Columns every delimited feed must carry. counterparty_id is optional.
var requiredColumns = []string{"id", "user_id", "amount", "currency", "timestamp"}

// ParseCSV parses a comma-delimited transaction feed.
//
// Expected header (any column order):
//
//	id,user_id,counterparty_id,amount,currency,timestamp
//
// Rows whose amount or timestamp do not parse are returned in
// Batch.Rejected with their line number; the rest still parse.
func ParseCSV(data []byte) (*Batch, error) {
	return parseDelimited(data, ',')
}

// ParsePipeDelimited parses the same columns separated by '|'.
func ParsePipeDelimited(data []byte) (*Batch, error) {
	return parseDelimited(data, '|')
}

func parseDelimited(data []byte, comma rune) (*Batch, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", domain.ErrValidation, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", domain.ErrValidation, name)
		}
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	batch := &Batch{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Quoting errors leave the reader out of step with the file.
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		line, _ := reader.FieldPos(0)
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		id := field(row, "id")
		amount, err := decimal.NewFromString(field(row, "amount"))
		if err != nil {
			batch.reject(line, id, fmt.Errorf("amount: %v", err))
			continue
		}
		ts, err := parseTimestamp(field(row, "timestamp"))
		if err != nil {
			batch.reject(line, id, fmt.Errorf("timestamp: %v", err))
			continue
		}

		batch.Records = append(batch.Records, Record{Row: line, Transaction: domain.Transaction{
			ID:             id,
			UserID:         field(row, "user_id"),
			CounterpartyID: field(row, "counterparty_id"),
			Amount:         amount,
			Currency:       field(row, "currency"),
			Timestamp:      ts,
		}})
	}
	return batch, nil
}

// parseTimestamp accepts RFC 3339 and falls back to a bare date at midnight
// UTC.
func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		ts, err = time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return ts.UTC(), nil
}
