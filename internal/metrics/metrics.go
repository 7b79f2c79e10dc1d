package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_fetch_total",
		Help: "Total per-bound error fetches issued per provider",
	}, []string{"provider"})
	FetchFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_fetch_fail_total",
		Help: "Total per-bound fetches that yielded a transient error",
	}, []string{"provider"})
	FetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openqa_fetch_duration_ms",
		Help:    "Per-bound fetch+parse duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"provider"})
	EntitiesParsedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_entities_parsed_total",
		Help: "Total error entities parsed from provider payloads",
	}, []string{"provider"})
	ParseSkipTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_parse_skip_total",
		Help: "Total malformed records skipped during payload parsing",
	}, []string{"provider"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_cache_hits_total",
		Help: "Cache hits by layer (mem, redis, disk)",
	}, []string{"layer"})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openqa_cache_misses_total",
		Help: "Cache misses that required a network fetch",
	})
	CacheFetchFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openqa_cache_fetch_fail_total",
		Help: "Network fetches that failed or returned a non-2xx status",
	})
	MutationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_mutation_total",
		Help: "Verdict submissions by provider and verdict",
	}, []string{"provider", "verdict"})
	MutationFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_mutation_fail_total",
		Help: "Verdict submissions that failed and are safe to retry",
	}, []string{"provider"})
	TaxonomyFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openqa_taxonomy_fallback_total",
		Help: "Error-code taxonomy fetches that degraded to the catch-all list",
	}, []string{"provider"})
	UpdateDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "openqa_update_duration_ms",
		Help:    "Full update cycle duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000},
	})
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openqa_requests_total",
		Help: "Total collaborator API requests",
	})
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchFailTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(EntitiesParsedTotal)
	prometheus.MustRegister(ParseSkipTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheFetchFailTotal)
	prometheus.MustRegister(MutationTotal)
	prometheus.MustRegister(MutationFailTotal)
	prometheus.MustRegister(TaxonomyFallbackTotal)
	prometheus.MustRegister(UpdateDurationMs)
	prometheus.MustRegister(RequestsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
