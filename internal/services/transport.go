package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/MegaGrindStone/ask-stream/internal/ask"
	"github.com/MegaGrindStone/ask-stream/internal/models"
	"github.com/ollama/ollama/envconfig"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAITransport opens streaming chat completions against any OpenAI-compatible endpoint. The
// response body is handed back untouched so the caller can decode the `data: ` frames itself.
type OpenAITransport struct {
	client *http.Client

	logger *slog.Logger
}

// Provider names understood by the transport.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"

	maxErrorBody = 4 << 10
)

// ErrUnknownProvider is returned when a model names a provider with no known endpoint and no base
// URL override.
var ErrUnknownProvider = errors.New("unknown provider")

// NewOpenAITransport creates a transport sending requests through client. A nil client means
// http.DefaultClient.
func NewOpenAITransport(client *http.Client, logger *slog.Logger) OpenAITransport {
	if client == nil {
		client = http.DefaultClient
	}
	return OpenAITransport{
		client: client,
		logger: logger.With(slog.String("module", "transport")),
	}
}

// BaseURL resolves the API root for info: the explicit override when set, otherwise the
// provider's public endpoint. The ollama endpoint follows OLLAMA_HOST.
func BaseURL(info models.ModelInfo) (string, error) {
	if info.BaseURL != "" {
		return strings.TrimRight(info.BaseURL, "/"), nil
	}

	switch strings.ToLower(info.Provider) {
	case ProviderOpenAI:
		return goopenai.DefaultConfig("").BaseURL, nil
	case ProviderOpenRouter:
		return openRouterAPIEndpoint, nil
	case ProviderOllama:
		return envconfig.Host().String() + "/v1", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, info.Provider)
	}
}

// OpenStream posts a streaming chat completion request and returns the open response body. Any
// status other than 200 is an error carrying the provider's response body.
func (o OpenAITransport) OpenStream(
	ctx context.Context,
	info models.ModelInfo,
	messages []goopenai.ChatCompletionMessage,
) (ask.Stream, error) {
	baseURL, err := BaseURL(info)
	if err != nil {
		return nil, err
	}

	reqBody := goopenai.ChatCompletionRequest{
		Model:       info.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: info.Temperature,
		MaxTokens:   info.MaxTokens,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+info.APIKey)
	if strings.EqualFold(info.Provider, ProviderOpenRouter) {
		req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/ask-stream/")
		req.Header.Set("X-Title", "Ask Stream")
	}

	o.logger.Debug("Opening stream",
		slog.String("provider", info.Provider),
		slog.String("model", info.Model),
		slog.String("url", req.URL.String()))

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return &httpStream{
		body:   resp.Body,
		logger: o.logger,
	}, nil
}

// httpStream is an open response body that can be aborted from another goroutine.
type httpStream struct {
	body io.ReadCloser

	once   sync.Once
	logger *slog.Logger
}

func (s *httpStream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Cancel closes the body, which unblocks a pending Read.
func (s *httpStream) Cancel(reason error) {
	if reason != nil {
		s.logger.Debug("Cancelling stream", slog.String("reason", reason.Error()))
	}
	_ = s.Close()
}

func (s *httpStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
	})
	return err
}
