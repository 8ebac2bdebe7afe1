package report

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"math"
	"sort"
	"time"

	"github.com/linkeye/internal/models"
	"gorm.io/gorm"
)

const (
	maxDetectorTargets = 5
	maxTopLinks        = 10
)

// Periods a report can cover.
var Periods = map[string]time.Duration{
	"daily":  24 * time.Hour,
	"weekly": 7 * 24 * time.Hour,
}

type Generator struct {
	db   *gorm.DB
	tmpl *template.Template
}

type ReportData struct {
	Period       string
	StartTime    time.Time
	EndTime      time.Time
	AlertSummary AlertSummary
	TopLinks     []LinkSummary
	Trends       []LinkTrend
}

type AlertSummary struct {
	TotalAlerts      int
	CriticalAlerts   int
	WarningAlerts    int
	InfoAlerts       int
	SuppressedAlerts int
	ByDetector       []DetectorSummary
}

type DetectorSummary struct {
	Detector   models.Detector
	AlertCount int
	TopTargets []string
}

// LinkSummary aggregates one link's alerts and persisted samples.
type LinkSummary struct {
	OriginSerial string
	LinkName     string
	AlertCount   int
	Samples      int
	AvgLoss      float64
	MinLoss      float64
	MaxLoss      float64
}

type LinkTrend struct {
	OriginSerial string
	Points       []TimeSeriesPoint
}

type TimeSeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

func NewGenerator(db *gorm.DB) (*Generator, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"dB": func(v float64) string { return fmt.Sprintf("%.2f dB", v) },
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %v", err)
	}
	return &Generator{db: db, tmpl: tmpl}, nil
}

// Generate collects the report for the period ending at end.
func (g *Generator) Generate(ctx context.Context, period string, end time.Time) (*ReportData, error) {
	length, ok := Periods[period]
	if !ok {
		return nil, fmt.Errorf("unknown report period: %s", period)
	}
	data, err := g.collectReportData(ctx, end.Add(-length), end)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %v", err)
	}
	data.Period = period
	return data, nil
}

func (g *Generator) RenderHTML(w io.Writer, data *ReportData) error {
	if err := g.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %v", err)
	}
	return nil
}

func (g *Generator) collectReportData(ctx context.Context, startTime, endTime time.Time) (*ReportData, error) {
	data := &ReportData{
		StartTime: startTime.UTC(),
		EndTime:   endTime.UTC(),
	}

	var alerts []models.Alert
	if err := g.db.WithContext(ctx).
		Where("fired_at >= ? AND fired_at < ?", data.StartTime, data.EndTime).
		Order("fired_at").
		Find(&alerts).Error; err != nil {
		return nil, err
	}
	data.AlertSummary = processAlerts(alerts)

	var samples []models.LossHistory
	if err := g.db.WithContext(ctx).
		Where("recorded_at >= ? AND recorded_at < ?", data.StartTime, data.EndTime).
		Order("recorded_at").
		Find(&samples).Error; err != nil {
		return nil, err
	}

	var linkDefs []models.LinkDefinition
	if err := g.db.WithContext(ctx).Find(&linkDefs).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(linkDefs))
	for _, l := range linkDefs {
		names[l.OriginSerial] = l.Name()
	}

	data.TopLinks = processLinks(alerts, samples, names)
	data.Trends = calculateTrends(samples)
	return data, nil
}

func processAlerts(alerts []models.Alert) AlertSummary {
	summary := AlertSummary{}
	byDetector := make(map[models.Detector]*DetectorSummary)

	for _, alert := range alerts {
		summary.TotalAlerts++
		if alert.Suppressed {
			summary.SuppressedAlerts++
		}
		switch alert.Level {
		case models.AlertLevelCritical:
			summary.CriticalAlerts++
		case models.AlertLevelWarning:
			summary.WarningAlerts++
		case models.AlertLevelInfo:
			summary.InfoAlerts++
		}

		ds, ok := byDetector[alert.Detector]
		if !ok {
			ds = &DetectorSummary{Detector: alert.Detector}
			byDetector[alert.Detector] = ds
		}
		ds.AlertCount++
		if len(ds.TopTargets) < maxDetectorTargets && !contains(ds.TopTargets, alert.OriginSerial) {
			ds.TopTargets = append(ds.TopTargets, alert.OriginSerial)
		}
	}

	for _, ds := range byDetector {
		summary.ByDetector = append(summary.ByDetector, *ds)
	}
	sort.Slice(summary.ByDetector, func(i, j int) bool {
		if summary.ByDetector[i].AlertCount != summary.ByDetector[j].AlertCount {
			return summary.ByDetector[i].AlertCount > summary.ByDetector[j].AlertCount
		}
		return summary.ByDetector[i].Detector < summary.ByDetector[j].Detector
	})

	return summary
}

// processLinks ranks links by alert count, then by their worst loss.
func processLinks(alerts []models.Alert, samples []models.LossHistory, names map[string]string) []LinkSummary {
	links := make(map[string]*LinkSummary)
	get := func(serial string) *LinkSummary {
		ls, ok := links[serial]
		if !ok {
			name := names[serial]
			if name == "" {
				name = serial
			}
			ls = &LinkSummary{OriginSerial: serial, LinkName: name, MinLoss: math.Inf(1)}
			links[serial] = ls
		}
		return ls
	}

	for _, a := range alerts {
		get(a.OriginSerial).AlertCount++
	}
	for _, s := range samples {
		ls := get(s.OriginSerial)
		ls.Samples++
		ls.AvgLoss += s.Loss
		ls.MinLoss = math.Min(ls.MinLoss, s.Loss)
		ls.MaxLoss = math.Max(ls.MaxLoss, s.Loss)
	}

	result := make([]LinkSummary, 0, len(links))
	for _, ls := range links {
		if ls.Samples > 0 {
			ls.AvgLoss /= float64(ls.Samples)
		} else {
			ls.MinLoss = 0
		}
		result = append(result, *ls)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AlertCount != result[j].AlertCount {
			return result[i].AlertCount > result[j].AlertCount
		}
		if result[i].MaxLoss != result[j].MaxLoss {
			return result[i].MaxLoss > result[j].MaxLoss
		}
		return result[i].OriginSerial < result[j].OriginSerial
	})

	if len(result) > maxTopLinks {
		result = result[:maxTopLinks]
	}
	return result
}

// calculateTrends averages each link's samples per hour.
func calculateTrends(samples []models.LossHistory) []LinkTrend {
	type bucket struct {
		sum   float64
		count int
	}
	perLink := make(map[string]map[time.Time]*bucket)

	for _, s := range samples {
		hours, ok := perLink[s.OriginSerial]
		if !ok {
			hours = make(map[time.Time]*bucket)
			perLink[s.OriginSerial] = hours
		}
		rounded := s.RecordedAt.UTC().Truncate(time.Hour)
		b, ok := hours[rounded]
		if !ok {
			b = &bucket{}
			hours[rounded] = b
		}
		b.sum += s.Loss
		b.count++
	}

	serials := make([]string, 0, len(perLink))
	for serial := range perLink {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	trends := make([]LinkTrend, 0, len(serials))
	for _, serial := range serials {
		hours := perLink[serial]
		times := make([]time.Time, 0, len(hours))
		for t := range hours {
			times = append(times, t)
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

		trend := LinkTrend{OriginSerial: serial}
		for _, t := range times {
			b := hours[t]
			trend.Points = append(trend.Points, TimeSeriesPoint{Timestamp: t, Value: b.sum / float64(b.count)})
		}
		trends = append(trends, trend)
	}
	return trends
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

const reportTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>LinkEye {{.Period}} report</title></head>
<body>
<h1>LinkEye {{.Period}} report</h1>
<p>{{.StartTime.Format "2006-01-02 15:04"}} to {{.EndTime.Format "2006-01-02 15:04"}} UTC</p>

<h2>Alerts</h2>
<p>{{.AlertSummary.TotalAlerts}} total: {{.AlertSummary.CriticalAlerts}} critical, {{.AlertSummary.WarningAlerts}} warning, {{.AlertSummary.SuppressedAlerts}} held back by maintenance.</p>
{{if .AlertSummary.ByDetector}}
<table border="1" cellpadding="4">
<tr><th>Detector</th><th>Alerts</th><th>Links</th></tr>
{{range .AlertSummary.ByDetector}}<tr><td>{{.Detector}}</td><td>{{.AlertCount}}</td><td>{{range $i, $t := .TopTargets}}{{if $i}}, {{end}}{{$t}}{{end}}</td></tr>
{{end}}</table>
{{end}}

<h2>Links</h2>
{{if .TopLinks}}
<table border="1" cellpadding="4">
<tr><th>Link</th><th>Serial</th><th>Alerts</th><th>Samples</th><th>Avg</th><th>Min</th><th>Max</th></tr>
{{range .TopLinks}}<tr><td>{{.LinkName}}</td><td>{{.OriginSerial}}</td><td>{{.AlertCount}}</td><td>{{.Samples}}</td><td>{{dB .AvgLoss}}</td><td>{{dB .MinLoss}}</td><td>{{dB .MaxLoss}}</td></tr>
{{end}}</table>
{{else}}<p>No link activity in this period.</p>{{end}}
</body>
</html>
`
