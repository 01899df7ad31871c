package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

// DefaultWebhookTimeout bounds the remote verification call.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookVerifier delegates belief trace verification to an external
// verification service. Any transport failure, timeout, or non-2xx
// response fails closed: the adaptation is treated as unverified.
type WebhookVerifier struct {
	url      string
	apiKey   string
	client   *http.Client
	provider TraceProvider
}

// WebhookOption configures a WebhookVerifier.
type WebhookOption func(*WebhookVerifier)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(v *WebhookVerifier) { v.client = client }
}

// WithAPIKey sets the bearer token sent to the verification service.
func WithAPIKey(key string) WebhookOption {
	return func(v *WebhookVerifier) { v.apiKey = key }
}

// NewWebhookVerifier creates a verifier calling the given endpoint. The
// provider supplies the trace attached to each request; it may be nil,
// in which case only the adaptation is sent.
func NewWebhookVerifier(url string, provider TraceProvider, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		url:      url,
		provider: provider,
		client:   &http.Client{Timeout: DefaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type webhookRequest struct {
	Adaptation *memory.Adaptation `json:"adaptation"`
	Trace      *BeliefTrace       `json:"trace,omitempty"`
}

// Verify posts the adaptation and its trace to the verification service.
func (v *WebhookVerifier) Verify(ctx context.Context, adaptation *memory.Adaptation) VerifyResult {
	ctx, span := tracer.Start(ctx, "verifier.webhook.verify")
	defer span.End()
	span.SetAttributes(attribute.String("adaptation.id", adaptation.ID))

	req := webhookRequest{Adaptation: adaptation}
	if v.provider != nil {
		if trace, ok := v.provider.GetTrace(ctx, adaptation.Justification.PatternID); ok {
			req.Trace = trace
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return failClosed(adaptation.ID, "encoding verification request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return failClosed(adaptation.ID, "building verification request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return failClosed(adaptation.ID, "verification service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Str("adaptation_id", adaptation.ID).Int("status", resp.StatusCode).
			Msg("verification service rejected request, failing closed")
		return VerifyResult{Reason: "verification service returned " + resp.Status}
	}

	var result VerifyResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return failClosed(adaptation.ID, "decoding verification response", err)
	}
	return result
}

func failClosed(adaptationID, reason string, err error) VerifyResult {
	log.Warn().Err(err).Str("adaptation_id", adaptationID).
		Msg(reason + ", failing closed")
	return VerifyResult{Reason: reason + ": " + err.Error()}
}
