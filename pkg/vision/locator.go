// Package vision locates UI elements on screenshots through a
// vision-capable chat model. Results are best-effort: the same
// screenshot and description may yield different points between calls,
// so callers re-screenshot before retrying and verify outcomes
// themselves.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fotopilot/fotopilot/pkg/logging"
	"github.com/fotopilot/fotopilot/pkg/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// errMalformedOutput marks a response the model produced but we could
// not parse. Retried with the same description: model variance, not a
// caller bug.
var errMalformedOutput = errors.New("malformed model output")

// ChatClient is the single call the locator needs from a model backend.
// screenshot may be nil for text-only prompts.
type ChatClient interface {
	Complete(ctx context.Context, prompt string, screenshot []byte) (string, error)
}

// Locator answers spatial and semantic questions about screenshots.
type Locator struct {
	client ChatClient
	policy retry.Policy
	logger *logging.Logger
}

// Option configures a Locator.
type Option func(*locatorSettings)

type locatorSettings struct {
	model   string
	baseURL string
	policy  retry.Policy
}

// WithModel sets the vision model to query.
func WithModel(model string) Option {
	return func(s *locatorSettings) {
		s.model = model
	}
}

// WithBaseURL points the locator at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(s *locatorSettings) {
		s.baseURL = baseURL
	}
}

// WithPolicy overrides the retry policy for model calls.
func WithPolicy(policy retry.Policy) Option {
	return func(s *locatorSettings) {
		s.policy = policy
	}
}

// NewLocator creates a locator backed by an OpenAI-compatible vision
// model. If apiKey is empty it falls back to the OPENAI_API_KEY
// environment variable.
func NewLocator(apiKey string, opts ...Option) (*Locator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("vision API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	settings := &locatorSettings{
		model:  "gpt-4o",
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(settings)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(settings.baseURL))
	}
	client := openai.NewClient(clientOpts...)

	logger, _ := logging.NewLogger("vision")

	return &Locator{
		client: &openAIClient{client: client, model: settings.model},
		policy: settings.policy,
		logger: logger,
	}, nil
}

// NewLocatorWithClient wires a locator to a custom backend. Used by
// tests and by callers that already hold a model client.
func NewLocatorWithClient(client ChatClient, policy retry.Policy) *Locator {
	return &Locator{client: client, policy: policy}
}

// FindElement asks the model where the described element sits on the
// screenshot. After the retry budget is exhausted it returns a
// not-found result rather than an error; "not found" is an expected
// outcome the caller handles with fallbacks. Only context cancellation
// surfaces as an error.
func (l *Locator) FindElement(ctx context.Context, screenshot []byte, description string, vw, vh int) (*QueryResult, error) {
	var result QueryResult
	err := l.policy.Do(ctx, classifyCallError, func(attempt int) error {
		return l.queryJSON(ctx, findElementPrompt(description, vw, vh), screenshot, &result)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.warnf("find element %q failed: %v", description, err)
		return &QueryResult{Found: false}, nil
	}

	result.Confidence = clamp01(result.Confidence)
	if !result.Found {
		result.X, result.Y = 0, 0
	}
	return &result, nil
}

// ClassifyPage identifies which workflow page the screenshot shows.
// Exhausted retries yield PageUnknown, never an error.
func (l *Locator) ClassifyPage(ctx context.Context, screenshot []byte) (*PageClassification, error) {
	var result PageClassification
	err := l.policy.Do(ctx, classifyCallError, func(attempt int) error {
		return l.queryJSON(ctx, classifyPagePrompt, screenshot, &result)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.warnf("page classification failed: %v", err)
		return &PageClassification{PageType: PageUnknown}, nil
	}

	switch result.PageType {
	case PageLogin, PageCatalog, PageEditor, PageCheckout:
	default:
		result.PageType = PageUnknown
	}
	return &result, nil
}

// VerifyPlacement checks whether a just-performed drag landed a photo
// in the described slot. Exhausted retries yield Placed=false.
func (l *Locator) VerifyPlacement(ctx context.Context, screenshot []byte, slotDescription string) (*PlacementCheck, error) {
	var result PlacementCheck
	err := l.policy.Do(ctx, classifyCallError, func(attempt int) error {
		return l.queryJSON(ctx, verifyPlacementPrompt(slotDescription), screenshot, &result)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.warnf("placement verification for %q failed: %v", slotDescription, err)
		return &PlacementCheck{Placed: false, Detail: fmt.Sprintf("verification unavailable: %v", err)}, nil
	}

	result.Confidence = clamp01(result.Confidence)
	return &result, nil
}

// queryJSON performs one model call and decodes the first JSON object
// out of the response into dst.
func (l *Locator) queryJSON(ctx context.Context, prompt string, screenshot []byte, dst interface{}) error {
	raw, err := l.client.Complete(ctx, prompt, screenshot)
	if err != nil {
		return err
	}

	obj, err := ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedOutput, err)
	}
	return nil
}

func (l *Locator) warnf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Warnf(format, v...)
	}
}

// classifyCallError dispatches model-call failures to the retry policy:
// rate limits always retry with extra backoff, malformed output retries
// fresh (same description), auth failures stop immediately.
func classifyCallError(err error) retry.Class {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 429:
			return retry.ClassRateLimited
		case 401, 403:
			return retry.ClassFatal
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return retry.ClassRateLimited
	}
	return retry.ClassRetryable
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// openAIClient adapts the openai-go chat completions API to ChatClient.
type openAIClient struct {
	client openai.Client
	model  string
}

func (c *openAIClient) Complete(ctx context.Context, prompt string, screenshot []byte) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
	}
	if len(screenshot) > 0 {
		dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot)
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURL,
		}))
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
