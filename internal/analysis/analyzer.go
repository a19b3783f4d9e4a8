// Package analysis provides lightweight, deterministic traffic analysis
// for archived serial sessions. All analysis uses simple statistics over
// the recorded chunks.
//
// Key capabilities:
//   - Burst detection via Z-score over per-second RX throughput
//   - Throughput trend via linear regression
//   - Silence detection between received chunks
//   - Command/response latency from TX to the next RX
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Mr-Dark-debug/sermon/internal/database"
	"github.com/Mr-Dark-debug/sermon/pkg/timeutil"
)

// DefaultSilenceGap is the shortest RX pause reported as a silence.
const DefaultSilenceGap = 5 * time.Second

// Analyzer performs traffic analysis on archived sessions.
type Analyzer struct {
	store      database.Store
	silenceGap time.Duration
}

// NewAnalyzer creates a new analysis engine backed by the given store.
func NewAnalyzer(store database.Store) *Analyzer {
	return &Analyzer{store: store, silenceGap: DefaultSilenceGap}
}

// SetSilenceGap changes the shortest pause reported by DetectSilences.
func (a *Analyzer) SetSilenceGap(gap time.Duration) {
	if gap > 0 {
		a.silenceGap = gap
	}
}

func (a *Analyzer) records(sessionID int64) ([]*database.Record, error) {
	records, err := a.store.QueryRecords(database.RecordFilter{SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("querying records for session %d: %w", sessionID, err)
	}
	return records, nil
}

// ============================================================
// Throughput buckets
// ============================================================

// bucket is one second of traffic.
type bucket struct {
	second  int64 // seconds since the first record
	rxBytes int64
	txBytes int64
}

// span returns the earliest and latest timestamps. Records need not be
// in order.
func span(records []*database.Record) (first, last int64) {
	first, last = records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		first = min(first, r.Timestamp)
		last = max(last, r.Timestamp)
	}
	return first, last
}

// bucketize sums record sizes per second, including empty seconds
// between the earliest and latest record.
func bucketize(records []*database.Record) []bucket {
	if len(records) == 0 {
		return nil
	}
	base, end := span(records)
	buckets := make([]bucket, (end-base)/int64(time.Second)+1)
	for i := range buckets {
		buckets[i].second = int64(i)
	}
	for _, r := range records {
		i := (r.Timestamp - base) / int64(time.Second)
		if r.Direction == "TX" {
			buckets[i].txBytes += int64(len(r.Data))
		} else {
			buckets[i].rxBytes += int64(len(r.Data))
		}
	}
	return buckets
}

// ============================================================
// Burst Detection
// ============================================================

// Burst identifies a second with abnormally high received throughput.
type Burst struct {
	Offset   string  `json:"offset"` // time since the first record
	At       string  `json:"at"`
	Bytes    int64   `json:"bytes"`
	ZScore   float64 `json:"z_score"`
	Severity string  `json:"severity"` // "low", "medium", "high"
}

// DetectBursts calculates the Z-score of received bytes per second across
// a session, identifying seconds where the device talked far more than
// usual.
//
// A Z-score > 2.0 is a burst ("medium" severity).
// A Z-score > 3.0 is a significant burst ("high" severity).
func (a *Analyzer) DetectBursts(sessionID int64) ([]Burst, error) {
	records, err := a.records(sessionID)
	if err != nil {
		return nil, err
	}
	return detectBursts(records), nil
}

func detectBursts(records []*database.Record) []Burst {
	buckets := bucketize(records)
	if len(buckets) < 2 {
		// Not enough data for meaningful Z-score analysis
		return nil
	}

	var sum, sumSq float64
	for _, b := range buckets {
		v := float64(b.rxBytes)
		sum += v
		sumSq += v * v
	}

	n := float64(len(buckets))
	mean := sum / n
	variance := (sumSq / n) - (mean * mean)
	stddev := math.Sqrt(math.Max(variance, 0))

	if stddev == 0 {
		// Perfectly even traffic, no bursts
		return nil
	}

	base, _ := span(records)
	var bursts []Burst
	for _, b := range buckets {
		zScore := (float64(b.rxBytes) - mean) / stddev

		if zScore > 1.5 {
			severity := "low"
			if zScore > 3.0 {
				severity = "high"
			} else if zScore > 2.0 {
				severity = "medium"
			}

			offset := time.Duration(b.second) * time.Second
			bursts = append(bursts, Burst{
				Offset:   timeutil.FormatDuration(offset),
				At:       timeutil.FormatTimestamp(timeutil.FromNano(base).Add(offset)),
				Bytes:    b.rxBytes,
				ZScore:   math.Round(zScore*100) / 100,
				Severity: severity,
			})
		}
	}

	// Sort by Z-score descending
	sort.SliceStable(bursts, func(i, j int) bool {
		return bursts[i].ZScore > bursts[j].ZScore
	})

	return bursts
}

// ============================================================
// Throughput Trend
// ============================================================

// ThroughputReport describes how the received data rate evolved.
type ThroughputReport struct {
	Seconds     int     `json:"seconds"`
	RxBytes     int64   `json:"rx_bytes"`
	TxBytes     int64   `json:"tx_bytes"`
	MeanRate    float64 `json:"mean_rate"` // RX bytes per second
	PeakRate    int64   `json:"peak_rate"`
	Slope       float64 `json:"slope"` // change of RX rate per second
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	Trend       string  `json:"trend"` // "rising", "falling", "steady"
	Prediction  int64   `json:"prediction_rate_10_min"`
	Utilization float64 `json:"utilization"` // peak rate over line capacity, 0 when unknown
}

// dataPoint represents a single time-series observation for regression analysis.
type dataPoint struct {
	seconds float64 // since the first record
	value   float64
}

// AnalyzeThroughput performs linear regression on the per-second RX rate
// to tell whether the device is speeding up, slowing down or steady.
func (a *Analyzer) AnalyzeThroughput(sessionID int64) (*ThroughputReport, error) {
	records, err := a.records(sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := a.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return analyzeThroughput(records, sess.Baud), nil
}

func analyzeThroughput(records []*database.Record, baud int) *ThroughputReport {
	buckets := bucketize(records)
	report := &ThroughputReport{Seconds: len(buckets), Trend: "steady"}
	if len(buckets) == 0 {
		return report
	}

	points := make([]dataPoint, len(buckets))
	for i, b := range buckets {
		report.RxBytes += b.rxBytes
		report.TxBytes += b.txBytes
		report.PeakRate = max(report.PeakRate, b.rxBytes)
		points[i] = dataPoint{seconds: float64(b.second), value: float64(b.rxBytes)}
	}
	report.MeanRate = math.Round(float64(report.RxBytes)/float64(len(buckets))*100) / 100

	// Linear regression: y = mx + b
	slope, intercept, rSquared := linearRegression(points)

	// 8N1 framing sends 10 bits per byte.
	if baud > 0 {
		capacity := float64(baud) / 10
		report.Utilization = math.Round(float64(report.PeakRate)/capacity*1000) / 1000
	}

	lastTime := points[len(points)-1].seconds
	prediction := slope*(lastTime+600) + intercept

	switch {
	case len(points) >= 3 && rSquared > 0.7 && slope > 0.5:
		report.Trend = "rising"
	case len(points) >= 3 && rSquared > 0.7 && slope < -0.5:
		report.Trend = "falling"
	}

	report.Slope = math.Round(slope*1000) / 1000
	report.Intercept = math.Round(intercept*100) / 100
	report.RSquared = math.Round(rSquared*1000) / 1000
	report.Prediction = int64(math.Max(0, prediction))
	return report
}

// linearRegression computes ordinary least squares regression.
// Returns slope (m), intercept (b), and R-squared goodness of fit.
func linearRegression(points []dataPoint) (slope, intercept, rSquared float64) {
	n := float64(len(points))
	if n < 2 {
		return 0, 0, 0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		sumX += p.seconds
		sumY += p.value
		sumXY += p.seconds * p.value
		sumX2 += p.seconds * p.seconds
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	// R-squared
	meanY := sumY / n
	var ssRes, ssTot float64
	for _, p := range points {
		predicted := slope*p.seconds + intercept
		ssRes += (p.value - predicted) * (p.value - predicted)
		ssTot += (p.value - meanY) * (p.value - meanY)
	}

	if ssTot == 0 {
		rSquared = 1.0
	} else {
		rSquared = 1 - ssRes/ssTot
	}

	return slope, intercept, rSquared
}

// ============================================================
// Silences
// ============================================================

// Silence is a pause between two received chunks.
type Silence struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Duration string `json:"duration"`
	Millis   int64  `json:"millis"`
}

// DetectSilences lists RX pauses of at least the configured gap, longest
// first. This answers: "When did the device stop talking?"
func (a *Analyzer) DetectSilences(sessionID int64) ([]Silence, error) {
	records, err := a.records(sessionID)
	if err != nil {
		return nil, err
	}
	return detectSilences(records, a.silenceGap), nil
}

func detectSilences(records []*database.Record, gap time.Duration) []Silence {
	var silences []Silence
	var prev int64 = -1
	for _, r := range records {
		if r.Direction != "RX" {
			continue
		}
		if prev >= 0 {
			d := time.Duration(r.Timestamp - prev)
			if d >= gap {
				silences = append(silences, Silence{
					From:     timeutil.FormatTimestamp(timeutil.FromNano(prev)),
					To:       timeutil.FormatTimestamp(timeutil.FromNano(r.Timestamp)),
					Duration: timeutil.FormatDuration(d),
					Millis:   d.Milliseconds(),
				})
			}
		}
		prev = r.Timestamp
	}
	sort.SliceStable(silences, func(i, j int) bool {
		return silences[i].Millis > silences[j].Millis
	})
	return silences
}

// ============================================================
// Response Latency
// ============================================================

// LatencyReport summarizes the delay between a transmitted chunk and the
// first chunk received after it.
type LatencyReport struct {
	Samples int     `json:"samples"`
	MinMs   float64 `json:"min_ms"`
	MeanMs  float64 `json:"mean_ms"`
	P50Ms   float64 `json:"p50_ms"`
	MaxMs   float64 `json:"max_ms"`
}

// AnalyzeLatency pairs every TX chunk with the next RX chunk.
func (a *Analyzer) AnalyzeLatency(sessionID int64) (*LatencyReport, error) {
	records, err := a.records(sessionID)
	if err != nil {
		return nil, err
	}
	return analyzeLatency(records), nil
}

func analyzeLatency(records []*database.Record) *LatencyReport {
	var samples []float64
	var pending int64 = -1
	for _, r := range records {
		switch {
		case r.Direction == "TX":
			if pending < 0 {
				pending = r.Timestamp
			}
		case pending >= 0:
			samples = append(samples, float64(r.Timestamp-pending)/1e6)
			pending = -1
		}
	}

	report := &LatencyReport{Samples: len(samples)}
	if len(samples) == 0 {
		return report
	}
	sort.Float64s(samples)
	var sum float64
	for _, s := range samples {
		sum += s
	}
	round := func(v float64) float64 { return math.Round(v*100) / 100 }
	report.MinMs = round(samples[0])
	report.MaxMs = round(samples[len(samples)-1])
	report.MeanMs = round(sum / float64(len(samples)))
	report.P50Ms = round(samples[(len(samples)-1)/2])
	return report
}

// ============================================================
// Full Analysis Report
// ============================================================

// AnalysisReport is the complete output of `sermonctl analyze`.
type AnalysisReport struct {
	Session     *database.Session      `json:"session"`
	GeneratedAt string                 `json:"generated_at"`
	Stats       *database.SessionStats `json:"stats"`
	Bursts      []Burst                `json:"bursts"`
	Throughput  *ThroughputReport      `json:"throughput"`
	Silences    []Silence              `json:"silences"`
	Latency     *LatencyReport         `json:"latency"`
	Warnings    []string               `json:"warnings"`
}

// FullAnalysis runs all analysis passes and generates a comprehensive report.
func (a *Analyzer) FullAnalysis(sessionID int64) (*AnalysisReport, error) {
	sess, err := a.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	report := &AnalysisReport{
		Session:     sess,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}

	stats, err := a.store.GetSessionStats(sessionID)
	if err != nil {
		return nil, fmt.Errorf("gathering session stats: %w", err)
	}
	report.Stats = stats

	records, err := a.records(sessionID)
	if err != nil {
		return nil, err
	}

	report.Bursts = detectBursts(records)
	report.Throughput = analyzeThroughput(records, sess.Baud)
	report.Silences = detectSilences(records, a.silenceGap)
	report.Latency = analyzeLatency(records)

	if len(records) == 0 {
		report.Warnings = append(report.Warnings, "Session has no recorded traffic.")
	}
	if sess.Status == database.StatusInterrupted {
		report.Warnings = append(report.Warnings,
			"Session was interrupted; the archive may be missing its last records.")
	}
	if report.Throughput.Utilization > 0.9 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("⚠ LINE SATURATION: peak %d B/s is %.0f%% of %d baud capacity.",
				report.Throughput.PeakRate, report.Throughput.Utilization*100, sess.Baud))
	}
	for _, b := range report.Bursts {
		if b.Severity == "high" {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("⚠ BURST at %s: %d bytes in one second (Z-score: %.2f).",
					b.At, b.Bytes, b.ZScore))
		}
	}

	return report, nil
}

// FormatReport generates a human-readable markdown report.
func (a *Analyzer) FormatReport(report *AnalysisReport) string {
	var b strings.Builder

	b.WriteString("# Serial Session Report\n\n")
	if s := report.Session; s != nil {
		b.WriteString(fmt.Sprintf("**Session:** %d on `%s` (%d baud, %s, %s)\n",
			s.SessionID, s.Port, s.Baud, s.Format, s.Mode))
		b.WriteString(fmt.Sprintf("**Started:** %s\n", timeutil.FormatTimestampFull(timeutil.FromNano(s.StartTime))))
		b.WriteString(fmt.Sprintf("**Status:** %s\n", s.Status))
	}
	b.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt))

	// Stats
	if st := report.Stats; st != nil {
		b.WriteString("## Traffic Summary\n\n")
		b.WriteString("| Metric | Value |\n")
		b.WriteString("|--------|-------|\n")
		b.WriteString(fmt.Sprintf("| RX Chunks | %d |\n", st.RxChunks))
		b.WriteString(fmt.Sprintf("| RX Bytes | %d |\n", st.RxBytes))
		b.WriteString(fmt.Sprintf("| TX Chunks | %d |\n", st.TxChunks))
		b.WriteString(fmt.Sprintf("| TX Bytes | %d |\n", st.TxBytes))
		b.WriteString(fmt.Sprintf("| Active Window | %s |\n\n",
			timeutil.FormatDuration(time.Duration(st.DurationMs)*time.Millisecond)))
	}

	if tp := report.Throughput; tp != nil && tp.Seconds > 0 {
		b.WriteString("## Throughput\n\n")
		b.WriteString(fmt.Sprintf("- **Mean RX Rate:** %.2f B/s\n", tp.MeanRate))
		b.WriteString(fmt.Sprintf("- **Peak RX Rate:** %d B/s\n", tp.PeakRate))
		if tp.Utilization > 0 {
			b.WriteString(fmt.Sprintf("- **Peak Line Utilization:** %.1f%%\n", tp.Utilization*100))
		}
		b.WriteString(fmt.Sprintf("- **Trend:** %s (slope %.3f B/s², R² %.3f)\n", tp.Trend, tp.Slope, tp.RSquared))
		b.WriteString(fmt.Sprintf("- **10-min Prediction:** %d B/s\n\n", tp.Prediction))
	}

	if len(report.Bursts) > 0 {
		b.WriteString("## Bursts\n\n")
		b.WriteString("| At | Offset | Bytes | Z-Score | Severity |\n")
		b.WriteString("|----|--------|-------|---------|----------|\n")
		for _, bu := range report.Bursts {
			b.WriteString(fmt.Sprintf("| %s | %s | %d | %.2f | %s |\n",
				bu.At, bu.Offset, bu.Bytes, bu.ZScore, bu.Severity))
		}
		b.WriteString("\n")
	}

	if len(report.Silences) > 0 {
		b.WriteString("## Silences\n\n")
		b.WriteString("| From | To | Duration |\n")
		b.WriteString("|------|----|----------|\n")
		for _, s := range report.Silences {
			b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", s.From, s.To, s.Duration))
		}
		b.WriteString("\n")
	}

	if l := report.Latency; l != nil && l.Samples > 0 {
		b.WriteString("## Response Latency\n\n")
		b.WriteString(fmt.Sprintf("- **Samples:** %d\n", l.Samples))
		b.WriteString(fmt.Sprintf("- **Min / Median / Mean / Max:** %.2f / %.2f / %.2f / %.2f ms\n\n",
			l.MinMs, l.P50Ms, l.MeanMs, l.MaxMs))
	}

	// Warnings
	if len(report.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range report.Warnings {
			b.WriteString(fmt.Sprintf("- %s\n", w))
		}
	}

	return b.String()
}
