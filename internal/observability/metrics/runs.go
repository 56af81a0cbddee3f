package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type runKey struct {
	pipeline string
	status   string
}

type runLatencyKey struct {
	pipeline string
}

type runMetricsCollector struct {
	mu      sync.Mutex
	runs    map[runKey]uint64
	latency map[runLatencyKey]*histogram
}

var runCollector = &runMetricsCollector{
	runs:    make(map[runKey]uint64),
	latency: make(map[runLatencyKey]*histogram),
}

// ObserveRunExecution records the outcome and duration of a pipeline run.
func ObserveRunExecution(pipeline, status string, duration time.Duration) {
	runCollector.observe(pipeline, status, duration)
}

func (c *runMetricsCollector) observe(pipeline, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs[runKey{pipeline: pipeline, status: status}]++

	latKey := runLatencyKey{pipeline: pipeline}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *runMetricsCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type runMetric struct {
		runKey
		value uint64
	}
	type latencyMetric struct {
		runLatencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	runs := make([]runMetric, 0, len(c.runs))
	for key, value := range c.runs {
		runs = append(runs, runMetric{runKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			runLatencyKey: key,
			buckets:       append([]float64(nil), hist.buckets...),
			counts:        append([]uint64(nil), hist.counts...),
			sum:           hist.sum,
			count:         hist.count,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].pipeline == runs[j].pipeline {
			return runs[i].status < runs[j].status
		}
		return runs[i].pipeline < runs[j].pipeline
	})
	sort.Slice(lats, func(i, j int) bool {
		return lats[i].pipeline < lats[j].pipeline
	})

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP openagent_pipeline_runs_total Total number of pipeline runs by outcome.\n")
	builder.WriteString("# TYPE openagent_pipeline_runs_total counter\n")
	for _, metric := range runs {
		builder.WriteString(fmt.Sprintf("openagent_pipeline_runs_total{pipeline=\"%s\",status=\"%s\"} %d\n",
			escape(metric.pipeline), escape(metric.status), metric.value))
	}

	builder.WriteString("# HELP openagent_pipeline_run_duration_seconds Pipeline run duration in seconds.\n")
	builder.WriteString("# TYPE openagent_pipeline_run_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("openagent_pipeline_run_duration_seconds_bucket{pipeline=\"%s\",le=\"%s\"} %d\n",
				escape(metric.pipeline), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("openagent_pipeline_run_duration_seconds_bucket{pipeline=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.pipeline), metric.count))
		builder.WriteString(fmt.Sprintf("openagent_pipeline_run_duration_seconds_sum{pipeline=\"%s\"} %s\n",
			escape(metric.pipeline), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("openagent_pipeline_run_duration_seconds_count{pipeline=\"%s\"} %d\n",
			escape(metric.pipeline), metric.count))
	}

	return builder.String()
}
