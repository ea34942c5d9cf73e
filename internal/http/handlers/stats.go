package handlers

import (
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// StatsHandler renders the service's own metric families as JSON for
// dashboards that cannot scrape the Prometheus text format.
type StatsHandler struct {
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewStatsHandler(gatherer prometheus.Gatherer, logger *logging.Logger) *StatsHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatsHandler{gatherer: gatherer, logger: logger.Component("http.stats")}
}

// metricFamilyView is one gathered family. Counters and gauges carry
// Value; histograms carry Count, Sum, and the latency quantiles.
type metricFamilyView struct {
	Name    string             `json:"name"`
	Help    string             `json:"help,omitempty"`
	Type    string             `json:"type"`
	Samples []metricSampleView `json:"samples"`
}

type metricSampleView struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  *float64          `json:"value,omitempty"`
	Count  *uint64           `json:"count,omitempty"`
	Sum    *float64          `json:"sum,omitempty"`
	P90    *float64          `json:"p90Seconds,omitempty"`
	P95    *float64          `json:"p95Seconds,omitempty"`
}

const statsFamilyPrefix = "waitline_"

// Stats handles GET /api/v1/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	mfs, err := h.gatherer.Gather()
	if err != nil {
		respondErr(w, h.logger, apperr.Internal(err))
		return
	}
	views := make([]metricFamilyView, 0, len(mfs))
	for _, mf := range mfs {
		if mf == nil || !strings.HasPrefix(mf.GetName(), statsFamilyPrefix) {
			continue
		}
		views = append(views, viewFamily(mf))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	respond(w, http.StatusOK, "service stats", views)
}

func viewFamily(mf *dto.MetricFamily) metricFamilyView {
	view := metricFamilyView{
		Name: mf.GetName(),
		Help: mf.GetHelp(),
		Type: strings.ToLower(mf.GetType().String()),
	}
	for _, metric := range mf.Metric {
		if metric == nil {
			continue
		}
		sample := metricSampleView{Labels: labelMap(metric)}
		switch {
		case metric.GetCounter() != nil:
			v := metric.GetCounter().GetValue()
			sample.Value = &v
		case metric.GetGauge() != nil:
			v := metric.GetGauge().GetValue()
			sample.Value = &v
		case metric.GetHistogram() != nil:
			hist := metric.GetHistogram()
			count := hist.GetSampleCount()
			sum := hist.GetSampleSum()
			sample.Count = &count
			sample.Sum = &sum
			if p90, ok := histogramQuantile(hist, 0.90); ok {
				sample.P90 = &p90
			}
			if p95, ok := histogramQuantile(hist, 0.95); ok {
				sample.P95 = &p95
			}
		default:
			continue
		}
		view.Samples = append(view.Samples, sample)
	}
	return view
}

func labelMap(metric *dto.Metric) map[string]string {
	if len(metric.Label) == 0 {
		return nil
	}
	labels := make(map[string]string, len(metric.Label))
	for _, lp := range metric.Label {
		if lp == nil {
			continue
		}
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

// histogramQuantile interpolates the quantile from cumulative bucket
// counts, the same way promql's histogram_quantile does.
func histogramQuantile(hist *dto.Histogram, q float64) (float64, bool) {
	total := hist.GetSampleCount()
	if total == 0 {
		return 0, false
	}
	rank := q * float64(total)
	var prevCum uint64
	var prevUpper float64
	for _, b := range hist.Bucket {
		if b == nil {
			continue
		}
		upper := b.GetUpperBound()
		cum := b.GetCumulativeCount()
		if float64(cum) >= rank {
			if math.IsInf(upper, 1) {
				return prevUpper, true
			}
			within := float64(cum - prevCum)
			if within == 0 {
				return upper, true
			}
			return prevUpper + (upper-prevUpper)*((rank-float64(prevCum))/within), true
		}
		prevCum = cum
		if !math.IsInf(upper, 1) {
			prevUpper = upper
		}
	}
	return prevUpper, true
}
