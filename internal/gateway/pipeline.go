// Package gateway implements the Gateway Server (C9): the single HTTP
// surface fronting every other component, running spec §4.8's nine-step
// request lifecycle. Grounded on the teacher's internal/server package
// for the overall builder/pipeline split, generalized from a single
// CodeWhisperer-backed flow into the full multi-provider dispatch chain.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/chatmodel"
	"github.com/nullstack-gw/nexusgate/internal/config"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
	"github.com/nullstack-gw/nexusgate/internal/health"
	"github.com/nullstack-gw/nexusgate/internal/metrics"
	"github.com/nullstack-gw/nexusgate/internal/retry"
	"github.com/nullstack-gw/nexusgate/internal/selection"
	"github.com/nullstack-gw/nexusgate/internal/token"
	"github.com/nullstack-gw/nexusgate/internal/translator"
	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// Deps bundles every component the pipeline dispatches across.
type Deps struct {
	Config      *config.Manager
	Keys        *apikey.Manager
	Credentials *credential.Manager
	Tokens      *token.Manager
	Health      *health.Manager
	Selection   *selection.Engine
	Upstreams   *upstream.Registry
	HTTPClient  *http.Client
}

// Pipeline runs one inbound chat request through credential selection,
// upstream dispatch, retry, and streaming/accumulation.
type Pipeline struct {
	deps Deps
}

// NewPipeline constructs a Pipeline over deps.
func NewPipeline(deps Deps) *Pipeline {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 300 * time.Second}
	}
	return &Pipeline{deps: deps}
}

// StreamSink receives one already-encoded SSE frame at a time, flushing it
// to the client immediately. The pipeline stops treating the call as
// retryable as soon as the first frame is written (§4.8 step 8).
type StreamSink interface {
	Write(frame []byte) error
}

// Outcome is what the pipeline reports back to the handler for
// ApiLog/health bookkeeping (§4.8 step 9), after either streaming mode
// completes.
type Outcome struct {
	Provider     credential.Provider
	CredentialID string
	Model        string
	StatusCode   int
	InputTokens  int
	OutputTokens int
	Events       []translator.Event // only populated for non-streaming calls
	Err          error
}

// Run executes the full lifecycle for one NormalizedRequest. sink/encode
// are both nil for non-streaming calls; when sink is non-nil, every
// translator.Event is rendered via encode and written through sink as it
// arrives, and Outcome.Events is left empty.
func (p *Pipeline) Run(ctx context.Context, clientModel string, req chatmodel.NormalizedRequest, clientIP string, hdr http.Header, sink StreamSink, encode func(translator.Event) []byte) Outcome {
	snap := p.deps.Config.Snapshot()
	provider := upstream.ResolveProvider(snap, clientModel)
	selCfg := snap.SelectionFor(string(provider))

	cred, err := p.deps.Selection.Pick(provider, selCfg, hdr, clientIP)
	if err != nil {
		return Outcome{Provider: provider, Err: apperrors.NewKind(apperrors.KindUnavailable, "no credential available for provider "+string(provider))}
	}

	if err := p.deps.Tokens.EnsureValid(ctx, cred, 3*time.Minute); err != nil {
		return Outcome{Provider: provider, CredentialID: cred.ID, Err: apperrors.NewKind(apperrors.KindUnavailable, "credential token refresh failed: "+err.Error())}
	}

	adapter, ok := p.deps.Upstreams.Get(provider)
	if !ok {
		return Outcome{Provider: provider, CredentialID: cred.ID, Err: apperrors.NewKind(apperrors.KindUpstream, "no adapter registered for provider "+string(provider))}
	}

	resolvedModel := upstream.ResolveModel(snap, provider, req.Model)
	req.Model = resolvedModel

	policy := retry.Policy{
		MaxRetries:          snap.File.Retry.MaxRetries,
		BackoffBase:         time.Duration(snap.File.Retry.BackoffBaseSeconds * float64(time.Second)),
		MaxCompressionLevel: snap.File.Retry.MaxCompressionLevel,
	}

	var collected []translator.Event
	flushed := false
	asm := translator.NewAssembler(func(ev translator.Event) {
		collected = append(collected, ev)
		if sink != nil && encode != nil {
			if werr := sink.Write(encode(ev)); werr == nil {
				flushed = true
			}
		}
	})

	var finalStatus int

	do := func(ctx context.Context, messages []chatmodel.Message) (*http.Response, []byte, error) {
		reqCopy := req
		reqCopy.Messages = messages
		upReq, err := adapter.BuildRequest(cred, reqCopy, resolvedModel)
		if err != nil {
			return nil, nil, err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upReq.URL, bytes.NewReader(upReq.Body))
		if err != nil {
			return nil, nil, err
		}
		httpReq.Header = upReq.Headers
		start := time.Now()
		resp, err := p.deps.HTTPClient.Do(httpReq)
		metrics.UpstreamRequestDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues(string(provider), "error").Inc()
			return nil, nil, err
		}
		finalStatus = resp.StatusCode
		metrics.UpstreamRequestsTotal.WithLabelValues(string(provider), metrics.StatusClass(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return resp, body, nil
		}

		if flushed {
			// §4.8 step 8: once the first event has reached the client the
			// call is no longer retryable, so do() is never re-entered
			// after flushed becomes true — this branch only guards against
			// a 2xx arriving concurrently with an in-flight retry sleep.
			resp.Body.Close()
			return resp, nil, nil
		}

		parser, perr := translator.NewParser(upReq.StreamFormat, asm)
		if perr != nil {
			resp.Body.Close()
			return resp, nil, perr
		}
		drainStream(resp.Body, parser)
		asm.Finish("")
		resp.Body.Close()
		return resp, nil, nil
	}

	refresh := func(ctx context.Context) error {
		return p.deps.Tokens.Refresh(ctx, cred)
	}

	resp, runErr := retry.Run(ctx, policy, req.Messages, refresh, do)
	if runErr != nil {
		p.recordFailure(ctx, provider, cred.ID, selCfg.QuarantineThreshold)
		status := finalStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		return Outcome{Provider: provider, CredentialID: cred.ID, Model: resolvedModel, StatusCode: status, Err: apperrors.MapHTTPError(status, []byte(runErr.Error()))}
	}

	if _, herr := p.deps.Health.RecordSuccess(ctx, string(provider), cred.ID); herr != nil {
		log.WithError(herr).Warn("gateway: failed to record credential success")
	}
	_ = p.deps.Credentials.IncrementUseCount(ctx, cred.ID)

	out := Outcome{
		Provider:     provider,
		CredentialID: cred.ID,
		Model:        resolvedModel,
		StatusCode:   http.StatusOK,
	}
	if resp != nil {
		out.StatusCode = resp.StatusCode
	}
	for _, ev := range collected {
		if ev.Usage == nil {
			continue
		}
		if ev.Usage.InputTokens > 0 {
			out.InputTokens = ev.Usage.InputTokens
		}
		if ev.Usage.OutputTokens > 0 {
			out.OutputTokens = ev.Usage.OutputTokens
		}
	}
	if sink == nil {
		out.Events = collected
	}
	return out
}

func (p *Pipeline) recordFailure(ctx context.Context, provider credential.Provider, credentialID string, quarantineThreshold int) {
	score, err := p.deps.Health.RecordFailure(ctx, string(provider), credentialID)
	if err != nil {
		log.WithError(err).Warn("gateway: failed to record credential failure")
		return
	}
	quarantined, qerr := p.deps.Credentials.RecordErrorCount(ctx, credentialID, "upstream request failed", quarantineThreshold)
	if qerr == nil && quarantined {
		metrics.CredentialQuarantinesTotal.WithLabelValues(string(provider)).Inc()
	}
	metrics.CredentialHealthScore.WithLabelValues(string(provider), credentialID).Set(score)
}

// NewRequestID mints a correlation id for one gateway request.
func NewRequestID() string {
	return uuid.NewString()
}

// drainStream feeds the upstream response body to parser chunk by chunk
// until EOF, letting the shared Assembler drive emission.
func drainStream(body io.Reader, parser translator.Parser) {
	chunk := make([]byte, 4096)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			parser.Feed(chunk[:n])
		}
		if err != nil {
			return
		}
	}
}
