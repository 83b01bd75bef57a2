package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"brightcart/internal/models"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// order lifecycle events, cache effectiveness, upload jobs, authentication
// activity, and dependency health. It coordinates concurrent writers via a
// RWMutex while exposing a thread-safe gauge for in-flight upload tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	orderEvents      map[string]uint64
	orderRevenue     map[string]models.Money
	cacheEvents      map[string]uint64
	authEvents       map[string]uint64
	dependencyValue  map[string]float64
	dependencyState  map[string]string
	uploadEvents     map[UploadJobLabel]uint64
	uploadBytesTotal uint64
	activeUploads    atomic.Int64
}

// UploadJobLabel identifies an upload job event by kind ("single" or "batch")
// and status ("start", "complete", "fail").
type UploadJobLabel struct {
	Kind   string
	Status string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		orderEvents:     make(map[string]uint64),
		orderRevenue:    make(map[string]models.Money),
		cacheEvents:     make(map[string]uint64),
		authEvents:      make(map[string]uint64),
		dependencyValue: make(map[string]float64),
		dependencyState: make(map[string]string),
		uploadEvents:    make(map[UploadJobLabel]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault replaces the process-wide default recorder. It is primarily used
// by test setups that need an isolated recorder.
func SetDefault(r *Recorder) {
	if r != nil {
		defaultRecorder = r
	}
}

// Registry bundles a Recorder for callers that prefer explicit wiring over the
// package-level default.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry constructs a fresh Recorder and installs it as the default.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveOrderEvent records an order lifecycle event (placed, paid, delivered,
// cancelled) together with the order total, accumulating counts and revenue per
// event type.
func (r *Recorder) ObserveOrderEvent(event string, total models.Money) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.orderEvents[normalized]++
	revenue := r.orderRevenue[normalized]
	r.orderRevenue[normalized] = revenue.Add(total)
	r.mu.Unlock()
}

// ObserveCacheEvent records a cache outcome keyed by event type
// (e.g., "hit", "miss", "set", "evict").
func (r *Recorder) ObserveCacheEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.cacheEvents[normalized]++
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication event keyed by outcome
// (e.g., "signup", "login_success", "login_failure", "logout").
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// UploadJobStarted records the beginning of an upload job of the provided kind
// ("single" or "batch") and increments the active job gauge.
func (r *Recorder) UploadJobStarted(kind string) {
	r.recordUploadEvent(kind, "start")
	r.activeUploads.Add(1)
}

// UploadJobCompleted records the completion of an upload job, accumulates the
// number of bytes stored, and decrements the active job gauge.
func (r *Recorder) UploadJobCompleted(kind string, bytes int64) {
	r.recordUploadEvent(kind, "complete")
	if bytes > 0 {
		r.mu.Lock()
		r.uploadBytesTotal += uint64(bytes)
		r.mu.Unlock()
	}
	r.decrementGauge(&r.activeUploads)
}

// UploadJobFailed records a failed upload job and decrements the active job
// gauge (without allowing it to go negative if the job never started).
func (r *Recorder) UploadJobFailed(kind string) {
	r.recordUploadEvent(kind, "fail")
	r.decrementGauge(&r.activeUploads)
}

func (r *Recorder) recordUploadEvent(kind, status string) {
	label := UploadJobLabel{
		Kind:   normalizeName(kind),
		Status: normalizeName(status),
	}
	r.mu.Lock()
	r.uploadEvents[label]++
	r.mu.Unlock()
}

// ActiveUploads exposes the current gauge of in-flight upload jobs.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// SetDependencyHealth normalizes dependency identifiers, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetDependencyHealth(service, status string) {
	normalizedService := normalizeName(service)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.dependencyValue[normalizedService] = value
	r.dependencyState[normalizedService] = normalizedStatus
	r.mu.Unlock()
}

// UploadJobCounts returns copies of upload job event counters and the current
// active job gauge value for testing and reporting purposes.
func (r *Recorder) UploadJobCounts() (events map[UploadJobLabel]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[UploadJobLabel]uint64, len(r.uploadEvents))
	for k, v := range r.uploadEvents {
		events[k] = v
	}
	return events, r.activeUploads.Load()
}

// CacheCounts returns a copy of the cache event counters.
func (r *Recorder) CacheCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.cacheEvents))
	for k, v := range r.cacheEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.orderEvents = make(map[string]uint64)
	r.orderRevenue = make(map[string]models.Money)
	r.cacheEvents = make(map[string]uint64)
	r.authEvents = make(map[string]uint64)
	r.dependencyValue = make(map[string]float64)
	r.dependencyState = make(map[string]string)
	r.uploadEvents = make(map[UploadJobLabel]uint64)
	r.uploadBytesTotal = 0
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	orderEvents := r.sortedOrderEvents()
	cacheEvents := sortedKeys(r.cacheEvents)
	authEvents := sortedKeys(r.authEvents)
	dependencies := sortedKeys(r.dependencyValue)
	uploadEvents := r.sortedUploadJobLabels()

	fmt.Fprintln(w, "# HELP brightcart_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE brightcart_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "brightcart_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE brightcart_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "brightcart_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP brightcart_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE brightcart_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "brightcart_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_order_events_total Order lifecycle events by type")
	fmt.Fprintln(w, "# TYPE brightcart_order_events_total counter")
	for _, event := range orderEvents {
		count := r.orderEvents[event]
		fmt.Fprintf(w, "brightcart_order_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_order_revenue_sum Total order amount by lifecycle event")
	fmt.Fprintln(w, "# TYPE brightcart_order_revenue_sum counter")
	for _, event := range orderEvents {
		total := r.orderRevenue[event]
		fmt.Fprintf(w, "brightcart_order_revenue_sum{event=\"%s\"} %s\n", event, total.DecimalString())
	}

	fmt.Fprintln(w, "# HELP brightcart_cache_events_total Cache operations by outcome")
	fmt.Fprintln(w, "# TYPE brightcart_cache_events_total counter")
	for _, event := range cacheEvents {
		count := r.cacheEvents[event]
		fmt.Fprintf(w, "brightcart_cache_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_auth_events_total Authentication events by outcome")
	fmt.Fprintln(w, "# TYPE brightcart_auth_events_total counter")
	for _, event := range authEvents {
		count := r.authEvents[event]
		fmt.Fprintf(w, "brightcart_auth_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_dependency_health Health status reported by backing dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE brightcart_dependency_health gauge")
	for _, service := range dependencies {
		value := r.dependencyValue[service]
		status := r.dependencyState[service]
		fmt.Fprintf(w, "brightcart_dependency_health{service=\"%s\",status=\"%s\"} %f\n", service, status, value)
	}

	fmt.Fprintln(w, "# HELP brightcart_upload_jobs_total Upload job events by kind and status")
	fmt.Fprintln(w, "# TYPE brightcart_upload_jobs_total counter")
	for _, label := range uploadEvents {
		count := r.uploadEvents[label]
		fmt.Fprintf(w, "brightcart_upload_jobs_total{kind=\"%s\",status=\"%s\"} %d\n", label.Kind, label.Status, count)
	}

	fmt.Fprintln(w, "# HELP brightcart_upload_bytes_total Total bytes accepted by completed upload jobs")
	fmt.Fprintln(w, "# TYPE brightcart_upload_bytes_total counter")
	fmt.Fprintf(w, "brightcart_upload_bytes_total %d\n", r.uploadBytesTotal)

	fmt.Fprintln(w, "# HELP brightcart_active_uploads Current number of in-flight upload jobs")
	fmt.Fprintln(w, "# TYPE brightcart_active_uploads gauge")
	fmt.Fprintf(w, "brightcart_active_uploads %d\n", r.activeUploads.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedOrderEvents() []string {
	totalEvents := len(r.orderEvents) + len(r.orderRevenue)
	seen := make(map[string]struct{}, totalEvents)
	events := make([]string, 0, totalEvents)
	for event := range r.orderEvents {
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, event)
	}
	for event := range r.orderRevenue {
		if _, exists := seen[event]; exists {
			continue
		}
		seen[event] = struct{}{}
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedUploadJobLabels() []UploadJobLabel {
	labels := make([]UploadJobLabel, 0, len(r.uploadEvents))
	for label := range r.uploadEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveOrderEvent records an order lifecycle event on the default recorder.
func ObserveOrderEvent(event string, total models.Money) {
	defaultRecorder.ObserveOrderEvent(event, total)
}

// ObserveCacheEvent records a cache outcome on the default recorder.
func ObserveCacheEvent(event string) {
	defaultRecorder.ObserveCacheEvent(event)
}

// ObserveAuthEvent records an authentication event on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// SetDependencyHealth updates dependency health on the default recorder.
func SetDependencyHealth(service, status string) {
	defaultRecorder.SetDependencyHealth(service, status)
}

// UploadJobStarted records the start of an upload job on the default recorder.
func UploadJobStarted(kind string) {
	defaultRecorder.UploadJobStarted(kind)
}

// UploadJobCompleted records the completion of an upload job on the default recorder.
func UploadJobCompleted(kind string, bytes int64) {
	defaultRecorder.UploadJobCompleted(kind, bytes)
}

// UploadJobFailed records a failed upload job on the default recorder.
func UploadJobFailed(kind string) {
	defaultRecorder.UploadJobFailed(kind)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
