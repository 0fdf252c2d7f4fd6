// Package anthropicsum compresses text entries by delegating
// summarization to an auxiliary Claude model.
package anthropicsum

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/agentstash/stash/internal/handoff"
	"github.com/agentstash/stash/internal/ratelimit"
)

// DefaultModel is a fast, cheap model appropriate for summarization
// handoff.
const DefaultModel = "claude-3-5-haiku-20241022"

// DefaultMaxTokens bounds the summary response.
const DefaultMaxTokens = 1024

const systemPrompt = `You compress cached context for a coding agent. ` +
	`Summarize the provided content, preserving identifiers, file paths, ` +
	`error messages, and decisions verbatim. Drop repetition and filler. ` +
	`Output only the summary.`

// Compile-time check that Summarizer implements handoff.Compressor.
var _ handoff.Compressor = (*Summarizer)(nil)

// Summarizer compresses content via the Anthropic messages API.
// Calls are gated by the provider's rate limiter.
type Summarizer struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithModel overrides the summarizer model.
func WithModel(model string) Option {
	return func(s *Summarizer) {
		s.model = anthropic.Model(model)
	}
}

// WithMaxTokens overrides the summary response cap.
func WithMaxTokens(n int64) Option {
	return func(s *Summarizer) {
		s.maxTokens = n
	}
}

// WithLogger sets the logger. If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return func(s *Summarizer) {
		s.logger = l
	}
}

// New creates a Summarizer. client may be nil, in which case every
// Compress call reports handoff.ErrUnavailable and the entry stays in
// its prior compression state. limiter gates outbound calls; nil
// disables gating.
func New(client *anthropic.Client, limiter *ratelimit.Limiter, opts ...Option) *Summarizer {
	s := &Summarizer{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		limiter:   limiter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compress summarizes content down to roughly targetRatio of its
// original size.
func (s *Summarizer) Compress(ctx context.Context, content string, targetRatio float64) (string, error) {
	if s.client == nil {
		return "", handoff.ErrUnavailable
	}

	if s.limiter != nil {
		res := s.limiter.Acquire()
		if !res.Allowed {
			return "", fmt.Errorf("%w: retry after %v", handoff.ErrRateLimited, res.RetryAfter)
		}
	}

	targetChars := int(float64(len(content)) * targetRatio)
	userPrompt := fmt.Sprintf(
		"Compress the following content to roughly %d characters:\n\n%s",
		targetChars, content,
	)

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: accumulating stream: %v", handoff.ErrUnavailable, err)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", handoff.ErrUnavailable, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}
	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", handoff.ErrUnavailable)
	}

	if s.limiter != nil {
		used := int(message.Usage.InputTokens + message.Usage.OutputTokens)
		if err := s.limiter.RecordTokens(used); err != nil {
			// Budget accounting only; the summary is already paid for.
			s.logger.Debug("token budget exceeded after summarization",
				zap.Int("tokens", used),
				zap.Error(err),
			)
		}
	}

	out := summary.String()
	if len(out) >= len(content) {
		return "", handoff.ErrIneffective
	}
	return out, nil
}

// CountTokens returns the model's exact token count for content,
// falling back to the caller's estimate on API failure.
func (s *Summarizer) CountTokens(ctx context.Context, content string, estimate int) int {
	if s.client == nil {
		return estimate
	}

	resp, err := s.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: s.model,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(content)),
		},
	})
	if err != nil {
		s.logger.Debug("token counting API unavailable, using estimate",
			zap.Error(err),
		)
		return estimate
	}
	return int(resp.InputTokens)
}
