// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyward_actions_total",
		Help: "Actions by account, kind and outcome",
	}, []string{"account", "kind", "outcome"})
	AccountRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyward_account_runs_total",
		Help: "Account runs by final status",
	}, []string{"status"})
	AccountRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skyward_account_run_duration_seconds",
		Help:    "Account run duration seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyward_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyward_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skyward_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(Actions, AccountRuns, AccountRunDuration, APIRetries, CommandRuns, CommandErrors)
}

// StartServer serves /metrics and /health on addr (e.g., ":9090") in the
// background. An empty addr disables it. The returned function stops it.
func StartServer(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return func() { _ = srv.Close() }
}

// WriteTextfile dumps the default registry for the node_exporter textfile
// collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

func IncAction(account, kind, outcome string) {
	Actions.WithLabelValues(account, kind, outcome).Inc()
}

func IncAccountRun(status string) { AccountRuns.WithLabelValues(status).Inc() }

// ObserveAccountRun records a run duration.
func ObserveAccountRun(d time.Duration) { AccountRunDuration.Observe(d.Seconds()) }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
