package telemetry

import (
	"runtime"
	"strings"
	"time"
)

const serviceName = "view-count"

// MetricLabel identifies optional dimensions for a metric item.
type MetricLabel struct {
	Mode string `json:"mode,omitempty"`
}

// Metric is a single usage metric value.
type Metric struct {
	Name   string      `json:"name"`
	Value  int64       `json:"value"`
	Unit   string      `json:"unit"`
	Labels MetricLabel `json:"labels,omitzero"`
}

// OSInfo identifies the runtime operating system.
type OSInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MetaInfo carries window and timestamp metadata for the payload.
type MetaInfo struct {
	WindowSizeSeconds   int64 `json:"window_size_seconds"`
	UtcStartupTimestamp int64 `json:"utc_startup_timestamp"`
	UtcNowTimestamp     int64 `json:"utc_now_timestamp"`
}

// UsagePayload is the body pushed at the end of each usage window.
type UsagePayload struct {
	Service string   `json:"service"`
	Version string   `json:"version"`
	OS      OSInfo   `json:"os"`
	Meta    MetaInfo `json:"meta"`
	Metrics []Metric `json:"metrics"`
}

// Total returns the sum of all metric values with the given name.
func (p UsagePayload) Total(name string) int64 {
	var n int64
	for _, m := range p.Metrics {
		if m.Name == name {
			n += m.Value
		}
	}
	return n
}

// BuildPayload constructs a usage payload stamped with the current time.
func BuildPayload(version string, startupTime time.Time, windowSeconds int64, w Window) UsagePayload {
	return BuildPayloadAt(version, startupTime, windowSeconds, w, time.Now().UTC())
}

// BuildPayloadAt constructs the payload with a caller-provided "now".
func BuildPayloadAt(
	version string,
	startupTime time.Time,
	windowSeconds int64,
	w Window,
	now time.Time,
) UsagePayload {
	metrics := []Metric{
		{
			Name:   "badges_served",
			Value:  w.ViewsBadges,
			Unit:   "request",
			Labels: MetricLabel{Mode: "views"},
		},
		{
			Name:   "badges_served",
			Value:  w.VisitorsBadges,
			Unit:   "request",
			Labels: MetricLabel{Mode: "visitors"},
		},
		{
			Name:  "new_visitors",
			Value: w.NewVisitors,
			Unit:  "visitor",
		},
	}

	return UsagePayload{
		Service: serviceName,
		Version: normalizeVersion(version),
		OS: OSInfo{
			Name:    runtime.GOOS,
			Version: runtime.GOARCH,
		},
		Meta: MetaInfo{
			WindowSizeSeconds:   windowSeconds,
			UtcStartupTimestamp: startupTime.UTC().Unix(),
			UtcNowTimestamp:     now.UTC().Unix(),
		},
		Metrics: metrics,
	}
}

func normalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return "vdev"
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
