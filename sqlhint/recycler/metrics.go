package recycler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreCollector exports store counters and partition sizes to prometheus
type StoreCollector struct {
	store *Store

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	waits     *prometheus.Desc
	builds    *prometheus.Desc
	bypasses  *prometheus.Desc
	failures  *prometheus.Desc
	evictions *prometheus.Desc

	entries *prometheus.Desc
	bytes   *prometheus.Desc
}

func NewStoreCollector(store *Store) *StoreCollector {
	partition := []string{"device", "item"}
	return &StoreCollector{
		store: store,

		hits: prometheus.NewDesc(
			"recycler_hits_total",
			"Lookups served from a cached hash table",
			nil, nil,
		),
		misses: prometheus.NewDesc(
			"recycler_misses_total",
			"Lookups that reserved a new build",
			nil, nil,
		),
		waits: prometheus.NewDesc(
			"recycler_waits_total",
			"Lookups that joined an in-flight build",
			nil, nil,
		),
		builds: prometheus.NewDesc(
			"recycler_builds_total",
			"Completed hash table builds",
			nil, nil,
		),
		bypasses: prometheus.NewDesc(
			"recycler_bypasses_total",
			"Builds that skipped the store",
			nil, nil,
		),
		failures: prometheus.NewDesc(
			"recycler_failures_total",
			"Builds released without an artifact",
			nil, nil,
		),
		evictions: prometheus.NewDesc(
			"recycler_evictions_total",
			"Entries removed by device eviction",
			nil, nil,
		),
		entries: prometheus.NewDesc(
			"recycler_entries",
			"Cached hash tables per partition",
			partition, nil,
		),
		bytes: prometheus.NewDesc(
			"recycler_entry_bytes",
			"Memory held by cached hash tables per partition",
			partition, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.waits
	ch <- c.builds
	ch <- c.bypasses
	ch <- c.failures
	ch <- c.evictions
	ch <- c.entries
	ch <- c.bytes
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.store.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(stats.Waits))
	ch <- prometheus.MustNewConstMetric(c.builds, prometheus.CounterValue, float64(stats.Builds))
	ch <- prometheus.MustNewConstMetric(c.bypasses, prometheus.CounterValue, float64(stats.Bypasses))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.Failures))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))

	for _, ps := range c.store.partitionStats() {
		device, item := ps.device.String(), ps.item.String()
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(ps.entries), device, item)
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(ps.bytes), device, item)
	}
}

type partitionStat struct {
	device  DeviceID
	item    CacheItemType
	entries int
	bytes   int64
}

func (s *Store) partitionStats() []partitionStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]partitionStat, 0, len(s.parts))
	for pk, p := range s.parts {
		ps := partitionStat{device: pk.device, item: pk.item, entries: p.entries.Len()}
		p.entries.Ascend(func(e *Entry) bool {
			ps.bytes += e.Artifact.MemoryFootprint()
			return true
		})
		out = append(out, ps)
	}
	return out
}
