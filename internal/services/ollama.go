package services

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
)

// OllamaModels lists the models a local Ollama server has pulled. The server is located through
// OLLAMA_HOST, the same way the transport resolves the ollama endpoint.
type OllamaModels struct {
	client *api.Client
}

// NewOllamaModels creates an OllamaModels from the environment.
func NewOllamaModels() (OllamaModels, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return OllamaModels{}, fmt.Errorf("error creating ollama client: %w", err)
	}
	return OllamaModels{client: client}, nil
}

// Names returns the name of every local model.
func (o OllamaModels) Names(ctx context.Context) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing ollama models: %w", err)
	}

	names := make([]string, len(res.Models))
	for i, m := range res.Models {
		names[i] = m.Name
	}
	return names, nil
}
