package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wakala/tradeguard/internal/alerts"
	"github.com/wakala/tradeguard/internal/domain"
)

const (
	FormatCSV  = "csv"
	FormatPSV  = "psv"
	FormatJSON = "json"
)

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	Format            string         `json:"format"`
	RecordsRead       int            `json:"records_read"`
	RecordsIngested   int            `json:"records_ingested"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	Rejected          []RowError     `json:"rejected"`
	AlertsGenerated   int            `json:"alerts_generated"`
	Alerts            []domain.Alert `json:"alerts"`
}

// RowError names a record that failed validation and was left out. Row is
// the line number in delimited feeds (the header is line 1) and the 1-based
// element index in JSON feeds.
type RowError struct {
	Row           int    `json:"row"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error"`
}

// Record is a decoded row and where it came from.
type Record struct {
	Row         int
	Transaction domain.Transaction
}

// Batch is a parsed feed.
type Batch struct {
	Records  []Record
	Rejected []RowError
}

func (b *Batch) reject(row int, id string, err error) {
	b.Rejected = append(b.Rejected, RowError{
		Row:           row,
		TransactionID: id,
		Error:         fmt.Errorf("%w: %v", domain.ErrValidation, err).Error(),
	})
}

// Screener is the part of the alert service ingestion drives.
type Screener interface {
	Screen(ctx context.Context, tx domain.Transaction) (*alerts.ScreenResult, error)
}

// Service feeds transaction files through screening.
type Service struct {
	screener Screener
	log      *zap.Logger
}

func NewService(screener Screener, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{screener: screener, log: log.Named("ingestion")}
}

// Parse decodes data in the given format. The error is reserved for input
// that cannot be read at all; bad rows land in Batch.Rejected.
func Parse(data []byte, format string) (*Batch, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(data)
	case FormatPSV:
		return ParsePipeDelimited(data)
	case FormatJSON:
		return ParseJSON(data)
	}
	return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrValidation, format)
}

// Ingest parses a transaction file and screens every record in timestamp
// order so each one is evaluated against the history before it. Records
// already stored are counted as duplicates. A row that fails to parse or
// validate is reported with its row number and skipped; any other error
// stops the run.
func (s *Service) Ingest(ctx context.Context, data []byte, format string) (*IngestResult, error) {
	batch, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	records := batch.Records
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Transaction.Timestamp.Before(records[j].Transaction.Timestamp)
	})

	res := &IngestResult{
		Format:      format,
		RecordsRead: len(records) + len(batch.Rejected),
		Rejected:    append([]RowError{}, batch.Rejected...),
		Alerts:      []domain.Alert{},
	}
	for _, rec := range records {
		tx := rec.Transaction
		screened, err := s.screener.Screen(ctx, tx)
		if errors.Is(err, domain.ErrValidation) {
			res.Rejected = append(res.Rejected, RowError{Row: rec.Row, TransactionID: tx.ID, Error: err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("screen %s: %w", tx.ID, err)
		}
		if screened.Duplicate {
			res.DuplicatesSkipped++
			continue
		}
		res.RecordsIngested++
		res.Alerts = append(res.Alerts, screened.Alerts...)
	}
	sort.SliceStable(res.Rejected, func(i, j int) bool {
		return res.Rejected[i].Row < res.Rejected[j].Row
	})
	res.AlertsGenerated = len(res.Alerts)

	s.log.Info("transaction file ingested",
		zap.String("format", format),
		zap.Int("read", res.RecordsRead),
		zap.Int("ingested", res.RecordsIngested),
		zap.Int("duplicates", res.DuplicatesSkipped),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int("alerts", res.AlertsGenerated))
	return res, nil
}
