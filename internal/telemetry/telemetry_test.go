package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/big3labs/waveflow/config"
	"github.com/big3labs/waveflow/workflow"
)

// restoreGlobals 测试结束后恢复全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func shutdown(t *testing.T, p *Providers) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func enabledConfig(sampleRate float64) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "waveflow-test",
		SampleRate:   sampleRate,
	}
}

// =============================================================================
// 🧪 Init 测试
// =============================================================================

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer("waveflow"), "关闭时回退到全局 tracer")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_OTLP(t *testing.T) {
	restoreGlobals(t)

	// 没有 collector 时 gRPC 连接是惰性的，Init 不应失败
	p, err := Init(enabledConfig(0.5), zaptest.NewLogger(t))
	require.NoError(t, err)
	shutdown(t, p)

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestProviders_SamplingFollowsRate(t *testing.T) {
	tests := []struct {
		rate    float64
		sampled bool
	}{
		{rate: 1.0, sampled: true},
		{rate: 0, sampled: false},
	}

	for _, tt := range tests {
		restoreGlobals(t)
		exp := tracetest.NewInMemoryExporter()
		p, err := Init(enabledConfig(tt.rate), nil,
			WithSpanExporter(exp), WithMetricReader(sdkmetric.NewManualReader()))
		require.NoError(t, err)
		shutdown(t, p)

		_, span := p.Tracer("waveflow/test").Start(context.Background(), "probe")
		span.End()

		assert.Equal(t, tt.sampled, span.SpanContext().IsSampled(), "rate %v", tt.rate)
		if tt.sampled {
			assert.Len(t, exp.GetSpans(), 1)
		} else {
			assert.Empty(t, exp.GetSpans())
		}
	}
}

// =============================================================================
// 🧪 计划执行的 span
// =============================================================================

func TestProviders_RunnerAndDispatcherSpans(t *testing.T) {
	restoreGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	p, err := Init(enabledConfig(1.0), nil, WithSpanExporter(exp), WithMetricReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	shutdown(t, p)

	tracer := p.Tracer("github.com/big3labs/waveflow")

	g := workflow.NewPlanGraph()
	a := g.AddStep(workflow.CreateAgent{AgentType: "coder", Name: "alice"})
	b := g.AddStep(workflow.CreateAgent{AgentType: "tester", Name: "bob"})
	require.NoError(t, g.AddDependency(b.ID, a.ID))
	plan, err := workflow.NewPlan(g)
	require.NoError(t, err)

	d, err := workflow.NewDispatcher(nil, nil, workflow.WithDispatcherTracer(tracer))
	require.NoError(t, err)
	_, err = workflow.NewRunner(d, workflow.WithTracer(tracer)).Run(context.Background(), plan, workflow.ModeParallel)
	require.NoError(t, err)

	counts := make(map[string]int)
	var runTrace string
	for _, s := range exp.GetSpans() {
		counts[s.Name]++
		if s.Name == "workflow.run" {
			runTrace = s.SpanContext.TraceID().String()
		}
	}
	assert.Equal(t, 1, counts["workflow.run"])
	assert.Equal(t, 2, counts["workflow.batch"])
	assert.Equal(t, 2, counts["workflow.dispatch"])

	for _, s := range exp.GetSpans() {
		assert.Equal(t, runTrace, s.SpanContext.TraceID().String(), "%s 应挂在同一条 trace 下", s.Name)
	}
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的 Main.Version 为 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}
