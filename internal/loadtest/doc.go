// Package loadtest drives concurrent simulated users against a request-serving
// entry point and measures success rate, latency distribution, and throughput
// per concurrency level.
//
// # Overview
//
// Each simulated user loops for the length of a test window: draw a query by
// popularity-weighted sampling, issue it with a per-request timeout, record a
// Sample, think, repeat. Failures are classified as timeouts or service errors
// and are never retried.
//
// # Quick Start
//
//	sampler, _ := loadtest.NewWeightedSampler([]loadtest.Query{
//	    {Text: "The Matrix", Weight: 1900000},
//	    {Text: "Heat", Weight: 650000},
//	})
//
//	h, _ := loadtest.New(loadtest.DefaultConfig("search"),
//	    loadtest.NewHTTPTarget("http://localhost:8001", 200))
//
//	summaries, err := h.Sweep(ctx, loadtest.DefaultSweepConfig(), sampler)
//
// # Analysis
//
// DegradationPoint finds the first level whose success rate drops below a
// threshold; PeakGoodput feeds the capacity model's service rate estimate.
// BottleneckAnalyzer reports where the sweep stops scaling:
//
//	analysis := loadtest.NewBottleneckAnalyzer(nil).AnalyzeSweep(summaries)
//	fmt.Println(analysis.GenerateReport())
//
// # Metrics
//
// Every Summary carries:
//
//   - TotalRequests, SuccessCount, FailureCount, SuccessRate
//   - MinLatency, AvgLatency, P50Latency, P95Latency, P99Latency, MaxLatency
//   - Throughput: completed requests per second of wall-clock window
//   - Goodput: successful requests per second of wall-clock window
//   - Failures: counts per FailureKind
//
// Register a Recorder to observe individual samples, e.g. to export them to
// Prometheus.
package loadtest
