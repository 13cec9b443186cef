package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/biodata-screener/internal/domain"
)

type recordingGateway struct {
	name   string
	models []string
	got    []domain.CompletionRequest
}

func (g *recordingGateway) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	g.got = append(g.got, req)
	return g.name, nil
}

func (g *recordingGateway) ListModels(context.Context) ([]string, error) { return g.models, nil }

func TestRouter_Routes(t *testing.T) {
	ollama := &recordingGateway{name: "ollama", models: []string{"mistral:latest"}}
	gemini := &recordingGateway{name: "gemini"}
	geminiPro := &recordingGateway{name: "gemini-pro"}
	r := NewRouter(ollama,
		Route{Prefix: "gemini", Gateway: gemini},
		Route{Prefix: "Gemini-1.5-Pro", Gateway: geminiPro},
		Route{Prefix: "skip", Gateway: nil},
	)

	tests := map[string]string{
		"mistral":            "ollama",
		"phi3:mini":          "ollama",
		"gemini-2.0-flash":   "gemini",
		"GEMINI-1.5-pro-002": "gemini-pro",
		"skip-me":            "ollama",
	}
	for model, want := range tests {
		out, err := r.Complete(context.Background(), domain.CompletionRequest{Model: model, Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, want, out, model)
	}
	require.Len(t, ollama.got, 3)
	assert.Equal(t, "p", ollama.got[0].Prompt)

	models, err := r.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral:latest"}, models)
}

func TestRouter_Errors(t *testing.T) {
	_, err := NewRouter(&recordingGateway{}).Complete(context.Background(), domain.CompletionRequest{Model: " "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewRouter(nil).Complete(context.Background(), domain.CompletionRequest{Model: "mistral"})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	models, err := NewRouter(nil).ListModels(context.Background())
	require.NoError(t, err)
	assert.Nil(t, models)
}
