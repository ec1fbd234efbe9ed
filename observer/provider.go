package observer

import (
	"context"
	"time"

	"relay"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for provider spans and metrics.
var (
	attrModel        = attribute.Key("llm.model")
	attrProvider     = attribute.Key("llm.provider")
	attrTokensInput  = attribute.Key("llm.tokens.input")
	attrTokensOutput = attribute.Key("llm.tokens.output")
	attrCostUSD      = attribute.Key("llm.cost_usd")
	attrStreamChunks = attribute.Key("llm.stream_chunks")
)

// ObservedProvider wraps a relay.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner relay.Provider
	inst  *Instruments
}

var _ relay.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider.
func WrapProvider(inner relay.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() relay.ProviderID { return o.inner.Name() }

func (o *ObservedProvider) ResolveBaseURL(cred relay.Credential) string {
	return o.inner.ResolveBaseURL(cred)
}

func (o *ObservedProvider) ListModels(ctx context.Context, cred relay.Credential) ([]relay.ModelDescriptor, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.list_models", trace.WithAttributes(
		attrProvider.String(string(o.inner.Name())),
	))
	defer span.End()

	models, err := o.inner.ListModels(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return models, err
}

// Invoke traces the streamed call and counts forwarded chunks. The inner
// channel is buffered generously so the provider never blocks on send
// while the caller waits for Invoke to return.
func (o *ObservedProvider) Invoke(ctx context.Context, cred relay.Credential, model relay.ModelDescriptor, prompt string, opts relay.InvokeOptions, ch chan<- relay.StreamEvent) (relay.InvokeResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.invoke", trace.WithAttributes(
		attrModel.String(model.ID),
		attrProvider.String(string(o.inner.Name())),
	))
	defer span.End()
	start := time.Now()

	inner := make(chan relay.StreamEvent, max(cap(ch), 64))
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for ev := range inner {
			chunks++
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := o.inner.Invoke(ctx, cred, model, prompt, opts, inner)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attrStreamChunks.Int(chunks))
	o.record(ctx, span, model.ID, status, durationMs, result.Usage)
	return result, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, model, status string, durationMs float64, usage relay.TokenUsage) {
	cost := o.inst.Cost.Calculate(model, usage.PromptTokens, usage.CompletionTokens)
	provider := string(o.inner.Name())

	span.SetAttributes(
		attrTokensInput.Int(usage.PromptTokens),
		attrTokensOutput.Int(usage.CompletionTokens),
		attrCostUSD.Float64(cost),
	)

	base := []attribute.KeyValue{
		attrModel.String(model),
		attrProvider.String(provider),
	}
	o.inst.TokenUsage.Add(ctx, int64(usage.PromptTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "input"))...))
	o.inst.TokenUsage.Add(ctx, int64(usage.CompletionTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "output"))...))
	o.inst.CostTotal.Add(ctx, cost, metric.WithAttributes(base...))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		append(base, attribute.String("status", status))...))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(base...))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", provider),
		otellog.Int("llm.tokens.input", usage.PromptTokens),
		otellog.Int("llm.tokens.output", usage.CompletionTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
