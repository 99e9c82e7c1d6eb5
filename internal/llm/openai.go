package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/thebtf/threadline/internal/config"
	"github.com/thebtf/threadline/pkg/models"
)

// OpenAIClient implements Client against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	api       *openai.Client
	chatModel string
	embModel  string
	dim       int
	attempts  int
	truncate  *truncator
}

// NewOpenAIClient builds a client from the LLM configuration.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm.apiKey is required")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	trunc, err := newTruncator(cfg.MaxPromptTokens)
	if err != nil {
		return nil, fmt.Errorf("init tokenizer: %w", err)
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &OpenAIClient{
		api:       openai.NewClientWithConfig(apiCfg),
		chatModel: cfg.ChatModel,
		embModel:  cfg.EmbeddingModel,
		dim:       cfg.EmbeddingDim,
		attempts:  attempts,
		truncate:  trunc,
	}, nil
}

// Embed implements Client.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{c.truncate.clip(text)},
		Model:      openai.EmbeddingModel(c.embModel),
		Dimensions: c.dim,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrMalformed)
	}
	emb := resp.Data[0].Embedding
	if len(emb) != c.dim {
		return nil, fmt.Errorf("%w: embedding dimension %d, want %d", ErrMalformed, len(emb), c.dim)
	}
	return emb, nil
}

// Summarize implements Client.
func (c *OpenAIClient) Summarize(ctx context.Context, article *models.IncomingArticle) (string, error) {
	prompt := fmt.Sprintf(summarizePrompt, article.Title, article.Description, c.truncate.clip(article.Content))
	return c.chat(ctx, prompt, 0.3)
}

// Judge implements Client. Malformed JSON is retried a few times before
// giving up: sampling noise accounts for most parse failures.
func (c *OpenAIClient) Judge(ctx context.Context, article *models.Article, thread *models.Thread) (*Verdict, error) {
	prompt := fmt.Sprintf(judgePrompt,
		article.Title, article.Description, c.truncate.clip(article.Content),
		thread.Title, thread.Summary)

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		raw, err := c.chat(ctx, prompt, 0.1)
		if err != nil {
			return nil, err
		}
		verdict, err := parseVerdict(raw)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Judge response unparseable, retrying")
	}
	return nil, lastErr
}

// ReviseThread implements Client.
func (c *OpenAIClient) ReviseThread(ctx context.Context, article *models.Article, thread *models.Thread) (*ThreadRevision, error) {
	prompt := fmt.Sprintf(revisePrompt,
		article.Title, article.Description, c.truncate.clip(article.Content),
		thread.Title, thread.Summary)

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		raw, err := c.chat(ctx, prompt, 0.3)
		if err != nil {
			return nil, err
		}
		revision, err := parseRevision(raw)
		if err == nil {
			return revision, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt+1).Msg("Revision response unparseable, retrying")
	}
	return nil, lastErr
}

// chat runs a single-message chat completion.
func (c *OpenAIClient) chat(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat response", ErrMalformed)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &BlockedError{Reason: "content filter"}
	}
	return choice.Message.Content, nil
}

// classify maps transport/API failures onto the adapter's error taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			return &BlockedError{Reason: apiErr.Message}
		}
		// 4xx other than rate limiting will not heal on retry.
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
