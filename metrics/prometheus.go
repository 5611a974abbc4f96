// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// NewCollector returns a prometheus.Collector that exports the values of m.
// Counters are exported as counters named namespace_<name>_total, and maximum
// value trackers as gauges named namespace_<name>_max. Names are sanitized so
// that any character not valid in a metric name is replaced by "_".
//
// The set of metrics in m may change over time, so the collector is
// unchecked: it does not describe its metrics in advance.
func NewCollector(m *M, namespace string) prometheus.Collector {
	return collector{m: m, ns: namespace}
}

type collector struct {
	m  *M
	ns string
}

// Describe implements part of prometheus.Collector. It sends no descriptors,
// which marks the collector as unchecked.
func (collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements part of prometheus.Collector.
func (c collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, name := range sortedKeys(snap.Counter) {
		desc := prometheus.NewDesc(c.metricName(name, "total"), "Counter "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snap.Counter[name]))
	}
	for _, name := range sortedKeys(snap.MaxValue) {
		desc := prometheus.NewDesc(c.metricName(name, "max"), "Maximum value of "+name, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(snap.MaxValue[name]))
	}
}

func (c collector) metricName(name, suffix string) string {
	return prometheus.BuildFQName(c.ns, sanitize(name), suffix)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
