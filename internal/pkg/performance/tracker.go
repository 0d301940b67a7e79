package performance

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker tracks crawl metrics: job runs, queue task outcomes and fetches.
type Tracker struct {
	mu sync.RWMutex

	jobs  map[string]*jobStats
	tasks map[string]*taskStats

	TotalFetches  int
	FailedFetches int
	FetchDuration time.Duration
	SlowestFetch  FetchTiming
}

type jobStats struct {
	runs     int
	failures int
	total    time.Duration
	last     time.Time
	lastErr  string
}

type taskStats struct {
	claimed   int
	succeeded int
	failed    int
}

// FetchTiming tracks a single upstream request
type FetchTiming struct {
	URL      string
	Status   int
	Duration time.Duration
}

func NewTracker() *Tracker {
	return &Tracker{
		jobs:  make(map[string]*jobStats),
		tasks: make(map[string]*taskStats),
	}
}

// Reset resets all metrics
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs = make(map[string]*jobStats)
	t.tasks = make(map[string]*taskStats)
	t.TotalFetches = 0
	t.FailedFetches = 0
	t.FetchDuration = 0
	t.SlowestFetch = FetchTiming{}
}

// RecordRun records one finished job invocation
func (t *Tracker) RecordRun(job string, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.jobs[job]
	if s == nil {
		s = &jobStats{}
		t.jobs[job] = s
	}
	s.runs++
	s.total += duration
	s.last = time.Now()
	s.lastErr = ""
	if err != nil {
		s.failures++
		s.lastErr = err.Error()
	}
}

// RecordTasks records queue task outcomes of one batch
func (t *Tracker) RecordTasks(kind string, claimed, succeeded, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.tasks[kind]
	if s == nil {
		s = &taskStats{}
		t.tasks[kind] = s
	}
	s.claimed += claimed
	s.succeeded += succeeded
	s.failed += failed
}

// RecordFetch records one upstream request
func (t *Tracker) RecordFetch(url string, status int, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.TotalFetches++
	t.FetchDuration += duration
	if err != nil || status < 200 || status >= 300 {
		t.FailedFetches++
	}
	if duration > t.SlowestFetch.Duration {
		t.SlowestFetch = FetchTiming{URL: url, Status: status, Duration: duration}
	}
}

// PrintSummary prints a short summary of collected metrics
func (t *Tracker) PrintSummary() {
	m := t.GetMetrics()
	if len(m.Jobs) == 0 && m.Fetch.Total == 0 {
		slog.Info("No crawl metrics collected yet")
		return
	}
	slog.Info("CRAWL SUMMARY",
		"fetches", m.Fetch.Total,
		"failed_fetches", m.Fetch.Failed,
		"avg_fetch", m.Fetch.AvgDuration)
	for name, j := range m.Jobs {
		slog.Info("Job", "job", name, "runs", j.Runs, "failures", j.Failures, "avg_duration", j.AvgDuration)
	}
	for kind, s := range m.Tasks {
		slog.Info("Tasks", "task", kind, "claimed", s.Claimed, "succeeded", s.Succeeded, "failed", s.Failed)
	}
}

// MetricsResponse represents the JSON response structure for /metrics endpoint
type MetricsResponse struct {
	Jobs map[string]JobMetrics `json:"jobs"`

	Tasks map[string]TaskMetrics `json:"tasks"`

	Fetch struct {
		Total         int     `json:"total"`
		Failed        int     `json:"failed"`
		SuccessRate   float64 `json:"success_rate"`
		AvgDuration   string  `json:"avg_duration"`
		SlowestURL    string  `json:"slowest_url,omitempty"`
		SlowestStatus int     `json:"slowest_status,omitempty"`
		Slowest       string  `json:"slowest_duration,omitempty"`
	} `json:"fetch"`
}

type JobMetrics struct {
	Runs        int    `json:"runs"`
	Failures    int    `json:"failures"`
	AvgDuration string `json:"avg_duration"`
	LastRun     string `json:"last_run,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type TaskMetrics struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// GetMetrics returns structured metrics for JSON API
func (t *Tracker) GetMetrics() MetricsResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	resp := MetricsResponse{
		Jobs:  make(map[string]JobMetrics, len(t.jobs)),
		Tasks: make(map[string]TaskMetrics, len(t.tasks)),
	}
	for name, s := range t.jobs {
		jm := JobMetrics{Runs: s.runs, Failures: s.failures, LastError: s.lastErr}
		if s.runs > 0 {
			jm.AvgDuration = (s.total / time.Duration(s.runs)).String()
		}
		if !s.last.IsZero() {
			jm.LastRun = s.last.UTC().Format(time.RFC3339)
		}
		resp.Jobs[name] = jm
	}
	for kind, s := range t.tasks {
		resp.Tasks[kind] = TaskMetrics{Claimed: s.claimed, Succeeded: s.succeeded, Failed: s.failed}
	}

	resp.Fetch.Total = t.TotalFetches
	resp.Fetch.Failed = t.FailedFetches
	if t.TotalFetches > 0 {
		resp.Fetch.SuccessRate = float64(t.TotalFetches-t.FailedFetches) / float64(t.TotalFetches) * 100
		resp.Fetch.AvgDuration = (t.FetchDuration / time.Duration(t.TotalFetches)).String()
	}
	if t.SlowestFetch.Duration > 0 {
		resp.Fetch.SlowestURL = t.SlowestFetch.URL
		resp.Fetch.SlowestStatus = t.SlowestFetch.Status
		resp.Fetch.Slowest = t.SlowestFetch.Duration.String()
	}
	return resp
}
