package reports

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tavern-panel/panel/internal/ledger"
	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/reports/chart"
	"github.com/tavern-panel/panel/internal/weeks"
)

// WeekSource reads weeks and their per-employee figures.
type WeekSource interface {
	Recent(ctx context.Context, n int) ([]weeks.Week, error)
	Get(ctx context.Context, id int64) (weeks.Week, error)
	Performance(ctx context.Context, weekID int64) ([]weeks.Performance, error)
	Preview(ctx context.Context) (weeks.Preview, error)
}

// LedgerSource reads ledger entries.
type LedgerSource interface {
	List(ctx context.Context, filter ledger.ListFilter) ([]ledger.Transaction, int, error)
	Summary(ctx context.Context, weekID *int64) (ledger.Summary, error)
}

// exportPageSize bounds the ledger rows of one week export.
const exportPageSize = 5000

// Service builds report views from the weeks and the ledger.
type Service struct {
	weeks  WeekSource
	ledger LedgerSource
	logger *slog.Logger
	group  singleflight.Group
	limit  int
}

// NewService wires the reports Service.
func NewService(weekSource WeekSource, ledgerSource LedgerSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{weeks: weekSource, ledger: ledgerSource, logger: logger, limit: 4}
}

// Overview loads the last n weeks with their charts and leaderboard.
// Concurrent calls for the same range share one build.
func (s *Service) Overview(ctx context.Context, n int) (Overview, error) {
	n = ClampRange(n)
	ch := s.group.DoChan("overview:"+strconv.Itoa(n), func() (interface{}, error) {
		return s.buildOverview(context.WithoutCancel(ctx), n)
	})
	select {
	case <-ctx.Done():
		return Overview{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Overview{}, res.Err
		}
		return res.Val.(Overview), nil
	}
}

func (s *Service) buildOverview(ctx context.Context, n int) (Overview, error) {
	recent, err := s.weeks.Recent(ctx, n)
	if err != nil {
		return Overview{}, fmt.Errorf("reports: recent weeks: %w", err)
	}
	if len(recent) == 0 {
		return Overview{}, nil
	}

	points := make([]WeekPoint, len(recent))
	perWeek := make([][]weeks.Performance, len(recent))
	var preview *weeks.Preview

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, w := range recent {
		points[i] = pointOf(w)
		g.Go(func() error {
			rows, err := s.weeks.Performance(gctx, w.ID)
			if err != nil {
				return fmt.Errorf("reports: performance of week %d: %w", w.Number, err)
			}
			perWeek[i] = rows
			return nil
		})
		g.Go(func() error {
			id := w.ID
			sum, err := s.ledger.Summary(gctx, &id)
			if err != nil {
				return fmt.Errorf("reports: ledger of week %d: %w", w.Number, err)
			}
			points[i].Ledger = sum
			return nil
		})
	}
	g.Go(func() error {
		p, err := s.weeks.Preview(gctx)
		if errors.Is(err, weeks.ErrNoActiveWeek) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reports: preview: %w", err)
		}
		preview = &p
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	if preview != nil {
		for i := range points {
			if points[i].Week.ID == preview.Week.ID {
				ledgerSum := points[i].Ledger
				points[i] = previewPoint(*preview)
				points[i].Ledger = ledgerSum
			}
		}
	}

	out := Overview{
		Weeks:  points,
		Top:    RankEmployees(perWeek, TopLimit),
		Totals: SumPoints(points),
	}
	out.Chart, out.Trend, err = charts(points)
	if err != nil {
		// A broken chart never hides the figures.
		s.logger.WarnContext(ctx, "render report charts", slog.Any("error", err))
	}
	return out, nil
}

// Week assembles the exportable detail of one week.
func (s *Service) Week(ctx context.Context, id int64) (WeekReport, error) {
	week, err := s.weeks.Get(ctx, id)
	if err != nil {
		return WeekReport{}, err
	}
	report := WeekReport{Week: week}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.weeks.Performance(gctx, id)
		report.Performance = rows
		return err
	})
	g.Go(func() error {
		txs, _, err := s.ledger.List(gctx, ledger.ListFilter{WeekID: &id, PerPage: exportPageSize})
		report.Transactions = txs
		return err
	})
	g.Go(func() error {
		sum, err := s.ledger.Summary(gctx, &id)
		report.Ledger = sum
		return err
	})
	if week.IsActive() {
		g.Go(func() error {
			p, err := s.weeks.Preview(gctx)
			if err != nil {
				return err
			}
			if p.Week.ID == id {
				report.Week = p.Week
				report.Week.Tax = p.Tax.Total
				report.Week.Net = p.Net
				report.Projected = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WeekReport{}, fmt.Errorf("reports: week %d: %w", week.Number, err)
	}
	return report, nil
}

func pointOf(w weeks.Week) WeekPoint {
	return WeekPoint{
		Week:        w,
		Revenue:     w.Revenue,
		Commissions: w.Commissions,
		Tax:         w.Tax,
		Net:         w.Net,
	}
}

func previewPoint(p weeks.Preview) WeekPoint {
	return WeekPoint{
		Week:        p.Week,
		Revenue:     p.Totals.Revenue,
		Commissions: p.Totals.Commissions,
		Tax:         p.Tax.Total,
		Net:         p.Net,
		Projected:   true,
	}
}

func charts(points []WeekPoint) (bars, trend template.HTML, err error) {
	labels := make([]string, len(points))
	revenue := make([]float64, len(points))
	tax := make([]float64, len(points))
	net := make([]float64, len(points))
	for i, p := range points {
		labels[i] = p.Label()
		revenue[i] = p.Revenue
		tax[i] = p.Tax
		net[i] = payroll.RoundCents(p.Net)
	}
	bars, err = chart.Bars(labels, []chart.Series{
		{Name: "Chiffre d'affaires", Values: revenue},
		{Name: "Impôt", Values: tax},
	}, chart.Options{Title: "Chiffre d'affaires et impôt", Description: "Recettes et impôt par semaine"})
	if err != nil {
		return "", "", err
	}
	trend, err = chart.Trend(labels, chart.Series{Name: "Net", Values: net}, chart.Options{Title: "Bénéfice net", Height: 200})
	if err != nil {
		return bars, "", err
	}
	return bars, trend, nil
}
