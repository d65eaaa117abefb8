// Package gateway invokes the language-model service over the full lecture
// transcript, enforcing a response schema and retrying transient failures
// with exponential backoff.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/lectern/internal/conversation"
)

// Client is the model gateway used by the pipeline.
type Client interface {
	// AnalyzeSlide sends the transcript snapshot plus one new slide image and
	// returns the raw explanation markup.
	AnalyzeSlide(ctx context.Context, snapshot []conversation.Turn, image []byte, instruction string) (string, error)

	// Summarize sends the transcript snapshot with a closing instruction
	// (lecture summary or practice questions) and returns raw markup.
	Summarize(ctx context.Context, snapshot []conversation.Turn, instruction string) (string, error)

	// Name returns the client identifier.
	Name() string
}

// Config configures the OpenAI-backed gateway.
type Config struct {
	APIKey      string
	Model       string
	MaxAttempts uint          // retry ceiling for transient failures
	RetryBase   time.Duration // base delay for exponential backoff
	Timeout     time.Duration
	BaseURL     string       // optional (tests)
	HTTPClient  *http.Client // optional (tests)
	Logger      *slog.Logger
}

// OpenAI implements Client using the official OpenAI SDK. SDK-internal
// retries are disabled; the gateway owns the retry policy so attempts and
// delays are observable and the ceiling is exact.
type OpenAI struct {
	client      openai.Client
	model       string
	maxAttempts uint
	retryBase   time.Duration
	schema      *jsonschema.Schema
	schemaDoc   map[string]any
	logger      *slog.Logger
}

// NewOpenAI creates the gateway client.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}

	var schemaDoc map[string]any
	if err := json.Unmarshal([]byte(envelopeSchema), &schemaDoc); err != nil {
		return nil, fmt.Errorf("failed to decode envelope schema: %w", err)
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		schema:      schema,
		schemaDoc:   schemaDoc,
		logger:      cfg.Logger.With("component", "gateway"),
	}, nil
}

// Name returns the client identifier.
func (g *OpenAI) Name() string { return "openai" }

// AnalyzeSlide replays the transcript and submits one new slide image.
func (g *OpenAI) AnalyzeSlide(ctx context.Context, snapshot []conversation.Turn, image []byte, instruction string) (string, error) {
	msgs := g.messages(snapshot)
	msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(instruction),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imageDataURL(image),
		}),
	}))
	return g.generate(ctx, msgs)
}

// Summarize replays the transcript with a closing instruction and no image.
func (g *OpenAI) Summarize(ctx context.Context, snapshot []conversation.Turn, instruction string) (string, error) {
	msgs := g.messages(snapshot)
	msgs = append(msgs, openai.UserMessage(instruction))
	return g.generate(ctx, msgs)
}

// generate issues one logical model call with the gateway retry policy.
func (g *OpenAI) generate(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: msgs,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "slide_explanation",
					Strict: openai.Bool(true),
					Schema: g.schemaDoc,
				},
			},
		},
	}

	var content string
	err := retry.Do(
		func() error {
			resp, callErr := g.client.Chat.Completions.New(ctx, params)
			if callErr != nil {
				return classify(callErr)
			}
			if len(resp.Choices) == 0 {
				return &ServiceError{Kind: KindTransient, Err: errors.New("empty choices in response")}
			}
			content = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.maxAttempts),
		retry.Delay(g.retryBase),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("model call failed, retrying",
				"attempt", n+1,
				"delay", g.retryBase<<n,
				"error", err)
		}),
	)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) {
			if se.Kind == KindTransient {
				return "", &ServiceError{
					Kind:      KindTransient,
					Status:    se.Status,
					Attempts:  int(g.maxAttempts),
					Exhausted: true,
					Err:       se.Err,
				}
			}
			return "", se
		}
		return "", &ServiceError{Kind: KindPermanent, Err: err}
	}

	env, ok := decodeEnvelope(g.schema, content)
	if !ok {
		// The AST parser downstream degrades anything unparseable, so a
		// malformed envelope is not a failed call.
		g.logger.Debug("response envelope invalid, passing raw content through", "chars", len(content))
		return content, nil
	}
	return env.Markup, nil
}

// messages converts transcript turns to chat messages.
func (g *OpenAI) messages(snapshot []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(snapshot)+1)
	for _, turn := range snapshot {
		switch turn.Role {
		case conversation.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(turn.Text))
		case conversation.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Text))
		case conversation.RoleUser:
			if len(turn.Image) > 0 {
				msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart(turn.Text),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: imageDataURL(turn.Image),
					}),
				}))
			} else {
				msgs = append(msgs, openai.UserMessage(turn.Text))
			}
		}
	}
	return msgs
}

func imageDataURL(image []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
}

var _ Client = (*OpenAI)(nil)
