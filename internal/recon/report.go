package recon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ReportFilter bounds the discrepancy report. Only approved sheets count.
type ReportFilter struct {
	From         time.Time
	To           time.Time
	DepartmentID int64
	Shift        Shift
}

// ReportLine aggregates one item's discrepancies across the period.
// Surplus sums the positive discrepancies, Shortage the negative ones, so
// overages and losses do not cancel each other out of the report.
type ReportLine struct {
	ItemID           int64           `json:"item_id"`
	ItemName         string          `json:"item_name"`
	TotalSystem      decimal.Decimal `json:"total_system"`
	TotalActual      decimal.Decimal `json:"total_actual"`
	TotalDiscrepancy decimal.Decimal `json:"total_discrepancy"`
	Surplus          decimal.Decimal `json:"surplus"`
	Shortage         decimal.Decimal `json:"shortage"`
	EstimatedLoss    decimal.Decimal `json:"estimated_loss"`
	SheetCount       int             `json:"sheet_count"`
}

// ShiftTotal aggregates discrepancies per shift.
type ShiftTotal struct {
	Shift            Shift           `json:"shift"`
	TotalDiscrepancy decimal.Decimal `json:"total_discrepancy"`
	EstimatedLoss    decimal.Decimal `json:"estimated_loss"`
	SheetCount       int             `json:"sheet_count"`
}

// DepartmentTotal aggregates discrepancies per department.
type DepartmentTotal struct {
	DepartmentID     int64           `json:"department_id"`
	DepartmentName   string          `json:"department_name"`
	TotalDiscrepancy decimal.Decimal `json:"total_discrepancy"`
	EstimatedLoss    decimal.Decimal `json:"estimated_loss"`
	SheetCount       int             `json:"sheet_count"`
}

// Report is the assembled discrepancy overview.
type Report struct {
	From          time.Time         `json:"from"`
	To            time.Time         `json:"to"`
	Lines         []ReportLine      `json:"lines"`
	ByShift       []ShiftTotal      `json:"by_shift"`
	ByDepartment  []DepartmentTotal `json:"by_department"`
	EstimatedLoss decimal.Decimal   `json:"estimated_loss"`
}

// ReportStore runs the aggregate queries behind the report.
type ReportStore interface {
	DiscrepancyLines(ctx context.Context, filter ReportFilter) ([]ReportLine, error)
	TotalsByShift(ctx context.Context, filter ReportFilter) ([]ShiftTotal, error)
	TotalsByDepartment(ctx context.Context, filter ReportFilter) ([]DepartmentTotal, error)
}

// Reporter assembles discrepancy reports. The three aggregates are
// independent so they run concurrently.
type Reporter struct {
	store ReportStore
}

// NewReporter constructs Reporter.
func NewReporter(store ReportStore) *Reporter {
	return &Reporter{store: store}
}

// Build assembles the report for the period. A period without approved
// sheets yields an empty report, not an error.
func (r *Reporter) Build(ctx context.Context, filter ReportFilter) (Report, error) {
	report := Report{From: filter.From, To: filter.To}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lines, err := r.store.DiscrepancyLines(gctx, filter)
		if err != nil {
			return err
		}
		report.Lines = lines
		return nil
	})
	g.Go(func() error {
		byShift, err := r.store.TotalsByShift(gctx, filter)
		if err != nil {
			return err
		}
		report.ByShift = byShift
		return nil
	})
	g.Go(func() error {
		byDept, err := r.store.TotalsByDepartment(gctx, filter)
		if err != nil {
			return err
		}
		report.ByDepartment = byDept
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	if report.Lines == nil {
		report.Lines = []ReportLine{}
	}
	if report.ByShift == nil {
		report.ByShift = []ShiftTotal{}
	}
	if report.ByDepartment == nil {
		report.ByDepartment = []DepartmentTotal{}
	}
	for _, line := range report.Lines {
		report.EstimatedLoss = report.EstimatedLoss.Add(line.EstimatedLoss)
	}
	return report, nil
}
