package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// SessionView is what a running monitor reports through /metrics.
type SessionView struct {
	RunID          string
	Suite          string
	State          string
	Generation     int
	ActiveChannels int
	Aborted        bool
	Crashes        int
	Timeouts       int
	Cases          map[string]int
	Processes      int
}

// Scraper reads the metrics endpoint of another monitor instance.
type Scraper struct {
	url        string
	httpClient *http.Client
}

// NewScraper creates a scraper for addr ("host:port" or a full URL).
func NewScraper(addr string, timeout time.Duration) *Scraper {
	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/metrics") {
		url = strings.TrimSuffix(url, "/") + "/metrics"
	}
	return &Scraper{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the scraped endpoint.
func (s *Scraper) URL() string {
	return s.url
}

// Scrape fetches and decodes the metric families.
func (s *Scraper) Scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	// Parse Prometheus text format
	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// View scrapes and extracts the session view.
func (s *Scraper) View(ctx context.Context) (SessionView, error) {
	families, err := s.Scrape(ctx)
	if err != nil {
		return SessionView{}, err
	}
	return ExtractSessionView(families), nil
}

// ExtractSessionView reads the collector's metrics out of families.
func ExtractSessionView(families map[string]*dto.MetricFamily) SessionView {
	v := SessionView{Cases: make(map[string]int)}
	name := func(n string) string { return Namespace + "_" + n }

	if mf := families[name("info")]; mf != nil {
		for _, m := range mf.GetMetric() {
			v.RunID = labelValue(m, "run_id")
			v.Suite = labelValue(m, "suite")
		}
	}
	if mf := families[name("session_state")]; mf != nil {
		for _, m := range mf.GetMetric() {
			if m.GetGauge().GetValue() == 1 {
				v.State = labelValue(m, "state")
			}
		}
	}
	if mf := families[name("cases_total")]; mf != nil {
		for _, m := range mf.GetMetric() {
			v.Cases[labelValue(m, "status")] = int(m.GetCounter().GetValue())
		}
	}

	v.Generation = int(gaugeValue(families[name("runner_generation")]))
	v.ActiveChannels = int(gaugeValue(families[name("active_channels")]))
	v.Aborted = gaugeValue(families[name("session_aborted")]) == 1
	v.Processes = int(gaugeValue(families[name("managed_processes")]))
	v.Crashes = int(counterValue(families[name("runner_crashes_total")]))
	v.Timeouts = int(counterValue(families[name("case_timeouts_total")]))
	return v
}

func labelValue(m *dto.Metric, label string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == label {
			return lp.GetValue()
		}
	}
	return ""
}

func gaugeValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func counterValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}
