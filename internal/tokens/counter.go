// Package tokens measures message length in model tokens so the generative
// interpreter can refuse oversized input before paying for a call.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a plain text string.
type Counter interface {
	Count(text string) (int, error)
}

// codecCache holds one codec per encoding. Loading an encoding parses its
// vocabulary, so it happens at most once per process.
var (
	codecCache = make(map[tokenizer.Encoding]tokenizer.Codec)
	cacheMu    sync.RWMutex
)

func getCodec(encoding tokenizer.Encoding) (tokenizer.Codec, error) {
	cacheMu.RLock()
	if cached, ok := codecCache[encoding]; ok {
		cacheMu.RUnlock()
		return cached, nil
	}
	cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	cacheMu.Lock()
	codecCache[encoding] = codec
	cacheMu.Unlock()

	return codec, nil
}

// TiktokenCounter counts with the BPE encoding matching a model family.
// Models from other vendors get the closest general-purpose encoding,
// which is accurate enough for a size guard.
type TiktokenCounter struct {
	encoding tokenizer.Encoding
}

// NewCounter returns a counter for the given model name.
func NewCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{encoding: modelToEncoding(model)}
}

// Encoding reports the encoding selected for the model.
func (c *TiktokenCounter) Encoding() tokenizer.Encoding {
	return c.encoding
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	codec, err := getCodec(c.encoding)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// modelToEncoding maps model names to encodings.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O-series and unknown models
// - Cl100kBase: GPT-4, GPT-3.5-turbo, Claude (approximation)
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "claude"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// Estimator approximates token counts from character length. It is used
// when no tokenizer is wanted, e.g. in tests.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// Count estimates the token count of text.
func (e *Estimator) Count(text string) (int, error) {
	n := len([]rune(text))
	if n == 0 {
		return 0, nil
	}
	tokens := int(float64(n)/e.CharsPerToken + 0.5)
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}
