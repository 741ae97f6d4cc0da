package settlement

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const journalSheet = "Journal"

var journalColumns = []string{
	"Record ID", "Type", "Status", "Ledger Mode", "Transaction ID", "Final Transaction ID",
	"Schedule ID", "Amount", "Asset", "From", "To", "Order ID", "Receipt ID",
	"Failure Reason", "Created At", "Settled At",
}

// Uploader stores an exported object
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}

// JournalExporter renders a period of settlement records to XLSX and uploads it
type JournalExporter struct {
	repo     Repository
	uploader Uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewJournalExporter creates an exporter writing under bucket/prefix
func NewJournalExporter(repo Repository, uploader Uploader, bucket, prefix string, logger *zap.Logger) *JournalExporter {
	return &JournalExporter{
		repo:     repo,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		logger:   logger,
	}
}

// Export uploads the records created in [from, to) and returns the object key
func (e *JournalExporter) Export(ctx context.Context, from, to time.Time) (string, error) {
	records, err := e.repo.List(ctx, Filter{From: &from, To: &to})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := RenderJournal(records, &buf); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s_%s.xlsx", e.prefix, from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	if err := e.uploader.Upload(ctx, e.bucket, key, &buf,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return "", fmt.Errorf("failed to upload journal export: %w", err)
	}

	e.logger.Info("Settlement journal exported",
		zap.String("bucket", e.bucket),
		zap.String("key", key),
		zap.Int("records", len(records)))
	return key, nil
}

// RenderJournal writes records as a single-sheet workbook
func RenderJournal(records []Record, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", journalSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2E7D32"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range journalColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(journalSheet, cell, col)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(journalColumns), 1)
	f.SetCellStyle(journalSheet, "A1", lastHeader, headerStyle)
	f.SetPanes(journalSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, rec := range records {
		row := []interface{}{
			rec.ID.String(),
			string(rec.Type),
			string(rec.Status),
			rec.LedgerMode,
			deref(rec.TransactionID),
			deref(rec.FinalTransactionID),
			deref(rec.ScheduleID),
			rec.Amount.StringFixed(8),
			rec.AssetID,
			rec.FromAccount,
			rec.ToAccount,
			uuidString(rec.OrderID),
			uuidString(rec.ReceiptID),
			deref(rec.FailureReason),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			timeString(rec.SettledAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(journalSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if len(records) > 0 {
		lastCell, _ := excelize.CoordinatesToCellName(len(journalColumns), len(records)+1)
		f.AutoFilter(journalSheet, "A1:"+lastCell, nil)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
