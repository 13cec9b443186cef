// Package tokencount estimates prompt sizes for the inference backends.
//
// Ollama and Gemini models publish no tiktoken encoding, so every model is
// measured with one BPE table loaded from the offline loader. The counts
// are approximations used for accounting only.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the BPE table used for every model family.
const Encoding = "cl100k_base"

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter measures prompts. The zero value is not usable; use NewCounter.
type Counter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewCounter returns a Counter that loads its encoding on first use.
func NewCounter() *Counter { return &Counter{} }

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(Encoding)
		if c.err != nil {
			slog.Warn("token encoding unavailable, falling back to character estimate",
				slog.String("encoding", Encoding), slog.Any("error", c.err))
		}
	})
	return c.enc, c.err
}

// Family reduces a model id to the name recorded with counts:
// "library/Mistral:7b-instruct" becomes "mistral".
func Family(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if i := strings.Index(model, ":"); i >= 0 {
		model = model[:i]
	}
	return model
}

// Count returns the exact token count of text under Encoding.
func (c *Counter) Count(text string) (int, error) {
	enc, err := c.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Estimate returns the token count of a prompt sent to model, or about
// four characters per token when the encoding cannot be loaded.
func (c *Counter) Estimate(text, model string) int {
	n, err := c.Count(text)
	if err != nil {
		return len(text) / 4
	}
	slog.Debug("prompt tokens", slog.String("family", Family(model)), slog.Int("tokens", n))
	return n
}
