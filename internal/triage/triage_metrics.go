package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsRunning     prometheus.Gauge
	JobsQueued      prometheus.Gauge
	SubmitsTotal    *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageLLMTime    *prometheus.HistogramVec
	StageTokensIn   *prometheus.HistogramVec
	StageTokensOut  *prometheus.HistogramVec
	StageToolCalls  *prometheus.HistogramVec
	LLMCallsTotal   prometheus.Counter
	LLMTokensIn     prometheus.Counter
	LLMTokensOut    prometheus.Counter
	LLMDuration     prometheus.Histogram
	ToolCallsTotal  *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	ToolInputBytes  *prometheus.HistogramVec
	ToolOutputBytes *prometheus.HistogramVec
	JobsEvicted     prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_jobs_total",
			Help: "Total triage jobs by final status.",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_job_duration_seconds",
			Help:    "Wall time of triage jobs from start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_jobs_running",
			Help: "Jobs currently holding a controller slot.",
		}),
		JobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "courier_jobs_queued",
			Help: "Jobs waiting for a controller slot.",
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_submits_total",
			Help: "Total batch submissions by result.",
		}, []string{"result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_stage_duration_seconds",
			Help:    "Duration of oracle stage invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"stage", "status"}),
		StageLLMTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_stage_llm_time_seconds",
			Help:    "Total LLM time per stage invocation in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"stage", "model"}),
		StageTokensIn: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_stage_tokens_input",
			Help:    "Input tokens consumed per stage invocation.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}, []string{"stage"}),
		StageTokensOut: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_stage_tokens_output",
			Help:    "Output tokens consumed per stage invocation.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100 .. ~409600
		}, []string{"stage"}),
		StageToolCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_stage_tool_calls",
			Help:    "Tool calls per stage invocation.",
			Buckets: prometheus.LinearBuckets(0, 2, 16), // 0 .. 30
		}, []string{"stage"}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "courier_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_tool_calls_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_tool_duration_seconds",
			Help:    "Duration of tool executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us .. ~1.6s
		}, []string{"tool"}),
		ToolInputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_tool_input_bytes",
			Help:    "Size of tool input in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		ToolOutputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_tool_output_bytes",
			Help:    "Size of tool output in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B .. ~1MB
		}, []string{"tool"}),
		JobsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "courier_jobs_evicted_total",
			Help: "Terminal jobs removed by the TTL sweeper.",
		}),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.JobsRunning,
		m.JobsQueued,
		m.SubmitsTotal,
		m.StageDuration,
		m.StageLLMTime,
		m.StageTokensIn,
		m.StageTokensOut,
		m.StageToolCalls,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.ToolInputBytes,
		m.ToolOutputBytes,
		m.JobsEvicted,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnToolCall: func(name string, duration float64, inputBytes, outputBytes int, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(name, status).Inc()
			m.ToolDuration.WithLabelValues(name).Observe(duration)
			m.ToolInputBytes.WithLabelValues(name).Observe(float64(inputBytes))
			m.ToolOutputBytes.WithLabelValues(name).Observe(float64(outputBytes))
		},
		OnComplete: func(e *CompleteEvent) {
			stage := string(e.Stage)
			m.StageLLMTime.WithLabelValues(stage, e.Model).Observe(e.LLMTime)
			m.StageTokensIn.WithLabelValues(stage).Observe(float64(e.TokensIn))
			m.StageTokensOut.WithLabelValues(stage).Observe(float64(e.TokensOut))
			m.StageToolCalls.WithLabelValues(stage).Observe(float64(e.ToolCalls))
		},
	}
}

// The helpers below are nil-safe so callers can run without metrics.

func (m *Metrics) observeStage(stage Stage, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageDuration.WithLabelValues(string(stage), status).Observe(d.Seconds())
}

func (m *Metrics) observeSubmit(result string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeJob(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(string(status)).Inc()
	m.JobDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

func (m *Metrics) queued(delta float64) {
	if m == nil {
		return
	}
	m.JobsQueued.Add(delta)
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.JobsRunning.Add(delta)
}

func (m *Metrics) evicted(n int) {
	if m == nil {
		return
	}
	m.JobsEvicted.Add(float64(n))
}
