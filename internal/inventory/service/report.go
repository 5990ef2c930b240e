package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	recentPerMaterial  = 10
	defaultReportRange = 30
)

// ReportService builds the per-branch inventory report.
type ReportService struct {
	repos  *Repositories
	clock  Clock
	logger *logger.Logger
}

// NewReportService creates a new report service
func NewReportService(deps Deps, opts Options) *ReportService {
	return &ReportService{
		repos:  deps.Repos,
		clock:  opts.Clock,
		logger: deps.Logger.WithComponent("report"),
	}
}

// ReportLine is one material of the report.
type ReportLine struct {
	MaterialID         string                `json:"material_id"`
	MaterialName       string                `json:"material_name"`
	Unit               string                `json:"unit"`
	CurrentQuantity    decimal.Decimal       `json:"current_quantity"`
	TotalUsage         decimal.Decimal       `json:"total_usage"`
	TotalRestocks      decimal.Decimal       `json:"total_restocks"`
	NetAdjustment      decimal.Decimal       `json:"net_adjustment"`
	RecentTransactions []*domain.Transaction `json:"recent_transactions"`
}

// InventoryReport covers one branch over [From, To], both days inclusive.
type InventoryReport struct {
	Branch      *domain.Branch `json:"branch"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	GeneratedAt time.Time      `json:"generated_at"`
	Lines       []ReportLine   `json:"lines"`
}

// InventoryReport summarises stock, usage and restocks per material of a
// branch. Zero dates default to the last 30 days up to today.
func (s *ReportService) InventoryReport(ctx context.Context, branchID string, from, to time.Time) (*InventoryReport, error) {
	branch, err := s.repos.Branches.GetByID(ctx, branchID)
	if err != nil {
		return nil, err
	}

	today := s.clock.Today()
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = domain.Date(to).AddDate(0, 0, -defaultReportRange)
	}
	from, to = domain.Date(from), domain.Date(to)
	if from.After(to) {
		return nil, errors.BadRequest("from must not be after to")
	}

	loc := s.clock.Location
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	quantities, err := s.repos.Quantities.ListByBranch(ctx, branchID, false)
	if err != nil {
		return nil, err
	}
	totals, err := s.repos.Transactions.TotalsByBranch(ctx, branchID, start, end)
	if err != nil {
		return nil, err
	}
	recent, err := s.repos.Transactions.Recent(ctx, branchID, start, end, recentPerMaterial)
	if err != nil {
		return nil, err
	}

	lines := map[string]*ReportLine{}
	for _, q := range quantities {
		lines[q.MaterialID] = &ReportLine{
			MaterialID:      q.MaterialID,
			MaterialName:    q.MaterialName,
			Unit:            q.Unit,
			CurrentQuantity: q.Quantity,
		}
	}

	for id, t := range totals {
		line, ok := lines[id]
		if !ok {
			m, err := s.repos.Materials.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			line = &ReportLine{MaterialID: id, MaterialName: m.Name, Unit: m.Unit}
			lines[id] = line
		}
		line.TotalUsage = t.Usage
		line.TotalRestocks = t.Restocks
		line.NetAdjustment = t.Adjusted
	}

	report := &InventoryReport{
		Branch:      branch,
		From:        from,
		To:          to,
		GeneratedAt: s.clock.now(),
		Lines:       make([]ReportLine, 0, len(lines)),
	}
	for id, line := range lines {
		line.RecentTransactions = recent[id]
		if line.RecentTransactions == nil {
			line.RecentTransactions = []*domain.Transaction{}
		}
		report.Lines = append(report.Lines, *line)
	}
	sort.Slice(report.Lines, func(i, j int) bool {
		return strings.ToLower(report.Lines[i].MaterialName) < strings.ToLower(report.Lines[j].MaterialName)
	})

	return report, nil
}

// WriteXLSX renders the report as a workbook with a summary sheet and a
// sheet of the recent transactions.
func (r *InventoryReport) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summary := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(summary, "Summary"); err != nil {
		return err
	}
	summary = "Summary"

	title := []interface{}{
		"Branch", r.Branch.Name,
		"From", r.From.Format("2006-01-02"),
		"To", r.To.Format("2006-01-02"),
	}
	if err := f.SetSheetRow(summary, "A1", &title); err != nil {
		return err
	}

	header := []interface{}{"material_id", "material", "unit", "current_quantity", "total_usage", "total_restocks", "net_adjustment"}
	if err := f.SetSheetRow(summary, "A3", &header); err != nil {
		return err
	}

	row := 4
	for _, line := range r.Lines {
		values := []interface{}{
			line.MaterialID,
			line.MaterialName,
			line.Unit,
			line.CurrentQuantity.InexactFloat64(),
			line.TotalUsage.InexactFloat64(),
			line.TotalRestocks.InexactFloat64(),
			line.NetAdjustment.InexactFloat64(),
		}
		if err := setRow(f, summary, row, values); err != nil {
			return err
		}
		row++
	}

	const history = "Recent transactions"
	if _, err := f.NewSheet(history); err != nil {
		return err
	}
	header = []interface{}{"created_at", "material", "type", "quantity", "unit", "reference", "actor"}
	if err := f.SetSheetRow(history, "A1", &header); err != nil {
		return err
	}

	row = 2
	for _, line := range r.Lines {
		for _, t := range line.RecentTransactions {
			values := []interface{}{
				t.CreatedAt.UTC().Format(time.RFC3339),
				line.MaterialName,
				string(t.Type),
				t.Quantity.InexactFloat64(),
				t.Unit,
				t.Reference,
				t.ActorName,
			}
			if err := setRow(f, history, row, values); err != nil {
				return err
			}
			row++
		}
	}

	return f.Write(w)
}

// Filename suggests a download name for the workbook.
func (r *InventoryReport) Filename() string {
	name := strings.ToLower(strings.Join(strings.Fields(r.Branch.Name), "-"))
	return fmt.Sprintf("inventory-%s-%s-%s.xlsx", name, r.From.Format("20060102"), r.To.Format("20060102"))
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
