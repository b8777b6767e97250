package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clearhaven/redemption-platform/redemption-backend/internal/reports/export"
)

// Service assembles window processing summaries and renders exports
type Service struct {
	repo   Repository
	logger *zap.Logger
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) WindowSummary(ctx context.Context, windowID uuid.UUID) (*WindowSummary, error) {
	return s.repo.GetWindowSummary(ctx, windowID)
}

var requestColumns = []string{
	"Request ID", "Investor ID", "Type", "Status", "Token Amount",
	"NAV Used", "Settlement Status", "Burn Tx", "Transfer Tx",
	"Submitted At", "Finalized At",
}

// ExportExcel writes a two-sheet workbook: the window's aggregate summary and
// the per-request detail
func (s *Service) ExportExcel(ctx context.Context, windowID uuid.UUID, w io.Writer) error {
	summary, err := s.repo.GetWindowSummary(ctx, windowID)
	if err != nil {
		return err
	}
	rows, err := s.repo.ListWindowRequests(ctx, windowID)
	if err != nil {
		return err
	}

	opts := export.DefaultExcelOptions()
	opts.SheetName = "Summary"
	exporter := export.NewExcelExporter(opts)
	defer exporter.Close()

	if err := exporter.WriteHeader([]string{"Field", "Value"}); err != nil {
		return err
	}
	if err := exporter.WriteRows(summaryRows(summary)); err != nil {
		return err
	}

	if err := exporter.AddSheet("Requests"); err != nil {
		return err
	}
	if err := exporter.WriteHeader(requestColumns); err != nil {
		return err
	}
	if err := exporter.WriteRows(requestRows(rows)); err != nil {
		return err
	}

	if err := exporter.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("window summary exported",
		zap.String("window_id", windowID.String()),
		zap.String("format", "xlsx"),
		zap.Int("requests", len(rows)))
	return nil
}

// ExportCSV writes the per-request detail as CSV
func (s *Service) ExportCSV(ctx context.Context, windowID uuid.UUID, w io.Writer) error {
	rows, err := s.repo.ListWindowRequests(ctx, windowID)
	if err != nil {
		return err
	}

	exporter := export.NewCSVExporter(w, export.DefaultCSVOptions())
	if err := exporter.WriteHeader(requestColumns); err != nil {
		return err
	}
	if err := exporter.WriteRows(requestRows(rows)); err != nil {
		return err
	}
	if err := exporter.Flush(); err != nil {
		return err
	}

	s.logger.Info("window summary exported",
		zap.String("window_id", windowID.String()),
		zap.String("format", "csv"),
		zap.Int("requests", len(rows)))
	return nil
}

func summaryRows(summary *WindowSummary) [][]interface{} {
	nav := ""
	if summary.NAV != nil {
		nav = summary.NAV.String()
	}
	rows := [][]interface{}{
		{"Window ID", summary.WindowID.String()},
		{"Token Type", summary.TokenType},
		{"Status", summary.Status},
		{"NAV", nav},
		{"NAV Date", summary.NAVDate},
		{"Submission Start", summary.SubmissionStart},
		{"Submission End", summary.SubmissionEnd},
		{"Completed At", summary.CompletedAt},
		{"Total Requests", summary.TotalRequests},
		{"Total Request Value", summary.TotalRequestValue.String()},
		{"Approved Value", summary.ApprovedValue.String()},
		{"Queued Value", summary.QueuedValue.String()},
		{"Rejected Value", summary.RejectedValue.String()},
	}
	for _, bucket := range summary.Outcomes {
		rows = append(rows, []interface{}{
			fmt.Sprintf("Requests %s", bucket.Status),
			fmt.Sprintf("%d (%s tokens)", bucket.Count, bucket.TotalValue.String()),
		})
	}
	return rows
}

func requestRows(rows []RequestRow) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		out[i] = []interface{}{
			r.RequestID.String(),
			r.InvestorID.String(),
			r.RedemptionType,
			r.Status,
			r.TokenAmount.String(),
			navStr(r.NAVUsed),
			strOrEmpty(r.SettlementStatus),
			strOrEmpty(r.BurnTxHash),
			strOrEmpty(r.TransferTxHash),
			r.SubmittedAt,
			r.FinalizedAt,
		}
	}
	return out
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func navStr(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
