package gitai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/overseer-dev/overseer/internal/telemetry"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

var errAPIKeyRequired = errors.New("gitai: API key required")

type anthropicProvider struct {
	client         anthropic.Client
	model          anthropic.Model
	tmpl           *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// newAnthropicProvider builds a Provider wrapping the Anthropic API.
// ANTHROPIC_API_KEY takes precedence over an explicit apiKey argument.
func newAnthropicProvider(apiKey string) (*anthropicProvider, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or pass an API key", errAPIKeyRequired)
	}

	tmpl, err := template.New("gitai_review").Parse(reviewPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("gitai: parsing review template: %w", err)
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &anthropicProvider{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(defaultModel),
		tmpl:           tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

func (p *anthropicProvider) Review(ctx context.Context, req Request) (*Verdict, error) {
	prompt, err := p.renderPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("gitai: rendering prompt: %w", err)
	}

	raw, err := p.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseVerdict(raw), nil
}

var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter("github.com/overseer-dev/overseer/gitai")
	aiMetrics.inputTokens, _ = m.Int64Counter("overseer.gitai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed by agent-assisted review"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("overseer.gitai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated by agent-assisted review"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("overseer.gitai.request.duration",
		metric.WithDescription("Anthropic API request duration for agent-assisted review"),
		metric.WithUnit("ms"),
	)
}

func (p *anthropicProvider) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/overseer-dev/overseer/gitai")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("overseer.gitai.model", string(p.model)),
		attribute.String("overseer.gitai.operation", "review"),
	)

	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := p.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("overseer.gitai.model", string(p.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("overseer.gitai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("overseer.gitai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("overseer.gitai.attempts", attempt+1),
			)

			if len(message.Content) > 0 {
				content := message.Content[0]
				if content.Type == "text" {
					return content.Text, nil
				}
				return "", fmt.Errorf("gitai: unexpected response format: not a text block (type=%s)", content.Type)
			}
			return "", fmt.Errorf("gitai: unexpected response format: no content blocks")
		}

		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if !isRetryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("gitai: non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("gitai: failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type reviewPromptData struct {
	Description string
	Diff        string
	Learnings   []string
}

func (p *anthropicProvider) renderPrompt(req Request) (string, error) {
	var sb strings.Builder
	data := reviewPromptData{Description: req.Task.Description, Diff: req.Diff, Learnings: req.Learnings}
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// parseVerdict looks for a leading VERDICT: line; anything else in the
// response is treated as an explanatory comment. A response with no
// recognizable verdict defaults to RequestChanges, since an automated
// reviewer should never silently wave a task through.
func parseVerdict(raw string) *Verdict {
	lines := strings.SplitN(strings.TrimSpace(raw), "\n", 2)
	first := strings.ToUpper(strings.TrimSpace(lines[0]))
	comment := raw
	if len(lines) > 1 {
		comment = strings.TrimSpace(lines[1])
	}
	switch {
	case strings.HasPrefix(first, "VERDICT: APPROVE"):
		return &Verdict{Approve: true, Comment: comment}
	case strings.HasPrefix(first, "VERDICT: REQUEST_CHANGES"):
		return &Verdict{Approve: false, Comment: comment}
	default:
		return &Verdict{Approve: false, Comment: raw}
	}
}

const reviewPromptTemplate = `You are reviewing a completed unit of work before it reaches a human reviewer.

**Task:** {{.Description}}

{{if .Learnings}}**Lessons from related work:**
{{range .Learnings}}- {{.}}
{{end}}{{end}}
**Diff:**
{{.Diff}}

Respond with a first line of either "VERDICT: APPROVE" or "VERDICT: REQUEST_CHANGES",
followed by a short explanation.`
