package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"lending-health-alerts/internal/storage"
)

// Export renders one address's health history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Address == "" {
		return errors.New("--address must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.UserID, opts.Address, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.HealthSample, max int) []storage.HealthSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.HealthSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.HealthSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"checked_at", "address", "protocol", "unit_id", "market", "health", "collateral_usd", "debt_usd", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		health := ""
		if sample.Health != nil {
			health = sample.Health.String()
		}
		record := []string{
			sample.CheckedAt.Format(time.RFC3339),
			sample.Address,
			sample.Protocol,
			sample.UnitID,
			sample.MarketLabel,
			health,
			sample.CollateralUSD.String(),
			sample.DebtUSD.String(),
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSamplesPNG plots the health factor over time, one series per
// (protocol, unit). Samples with undefined health are skipped.
func writeSamplesPNG(path string, samples []storage.HealthSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type seriesData struct {
		x []time.Time
		y []float64
	}
	byUnit := make(map[string]*seriesData)
	order := make([]string, 0)

	for _, sample := range samples {
		if sample.Health == nil {
			continue
		}
		key := sample.Protocol + " " + sample.MarketLabel
		data, ok := byUnit[key]
		if !ok {
			data = &seriesData{}
			byUnit[key] = data
			order = append(order, key)
		}
		data.x = append(data.x, sample.CheckedAt)
		data.y = append(data.y, sample.Health.InexactFloat64())
	}
	if len(order) == 0 {
		return errors.New("no defined health values in export window")
	}

	healthFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Health factor",
			ValueFormatter: healthFormatter,
		},
	}
	for _, key := range order {
		data := byUnit[key]
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    key,
			XValues: data.x,
			YValues: data.y,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
