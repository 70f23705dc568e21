package semantic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/calchat/internal/reliability"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

const openAISystemPrompt = "You are the language layer of a calendar assistant. " +
	"Follow the TASK line of each instruction exactly and answer with only what it asks for."

// OpenAIParser completes instructions with the chat completion API.
type OpenAIParser struct {
	client  *openai.Client
	model   string
	backoff reliability.Backoff
}

func NewOpenAIParser(cfg Config) *OpenAIParser {
	config := openai.DefaultConfig(strings.TrimSpace(cfg.OpenAIAPIKey))
	if base := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/"); base != "" {
		config.BaseURL = base
	}
	httpClient := &http.Client{}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	} else {
		httpClient.Timeout = 30 * time.Second
	}
	config.HTTPClient = httpClient

	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIParser{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		backoff: parserBackoff(cfg.MaxRetries),
	}
}

func (p *OpenAIParser) Complete(ctx context.Context, instruction string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: instruction},
		},
		Temperature: 0,
	}

	var resp openai.ChatCompletionResponse
	err := reliability.Retry(ctx, p.backoff, func(ctx context.Context) (bool, error) {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return retryableOpenAIError(err), fmt.Errorf("openai chat completion: %w", err)
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func retryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reliability.IsRetryableHTTPStatus(reqErr.HTTPStatusCode)
	}
	return reliability.IsTransient(err)
}
