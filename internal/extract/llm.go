package extract

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/labelmatch/internal/resilience"
)

// AddressPrompt instructs the model to return only the delivery address.
const AddressPrompt = `
You are an OCR address normalization system.

Extract ONLY the SINGLE BEST DELIVERY ADDRESS.

Rules:
- Ignore weights, labels, countries, tracking
- Remove noise like "lbs", "priority", "fedex", "ups"
- Address MUST contain street + city + state + ZIP
- Correct OCR spelling mistakes
- Standardize format

Return STRICT JSON only.

Format:
{
  "recipient_address": ""
}
`

// BuildAddressPrompt appends the OCR text to the instruction prompt.
func BuildAddressPrompt(text string) string {
	return AddressPrompt + "\nOCR TEXT:\n" + text
}

// Generator produces model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Cache stores raw model output keyed by a hash of the normalized text.
type Cache interface {
	GetCachedGeneration(ctx context.Context, key string) ([]byte, error)
	SetCachedGeneration(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// LLMAddresses delegates address normalization to a text-generation model.
type LLMAddresses struct {
	gen      Generator
	cache    Cache
	cacheTTL time.Duration
}

// LLMOption configures LLMAddresses.
type LLMOption func(*LLMAddresses)

// WithCache stores model output so repeated labels skip the model call.
func WithCache(c Cache, ttl time.Duration) LLMOption {
	return func(l *LLMAddresses) {
		l.cache = c
		l.cacheTTL = ttl
	}
}

// NewLLMAddresses creates an LLM-backed address extractor.
func NewLLMAddresses(gen Generator, opts ...LLMOption) *LLMAddresses {
	l := &LLMAddresses{gen: gen}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ExtractAddress implements AddressExtractor. Service failures are returned
// as errors with an empty address; an unusable payload is simply "no address".
func (l *LLMAddresses) ExtractAddress(ctx context.Context, text string) (string, error) {
	key := cacheKey(text)

	if l.cache != nil {
		data, err := l.cache.GetCachedGeneration(ctx, key)
		if err != nil {
			zap.L().Warn("extract: generation cache read failed", zap.Error(err))
		} else if data != nil {
			addr, _ := ParseAddressPayload(string(data))
			return addr, nil
		}
	}

	out, err := l.gen.Generate(ctx, BuildAddressPrompt(text))
	if err != nil {
		return "", eris.Wrap(err, "extract: llm address")
	}

	addr, ok := ParseAddressPayload(out)
	if !ok {
		zap.L().Debug("extract: llm output has no usable address",
			zap.Int("output_len", len(out)),
		)
	}

	if l.cache != nil {
		if err := l.cache.SetCachedGeneration(ctx, key, []byte(out), l.cacheTTL); err != nil {
			zap.L().Warn("extract: generation cache write failed", zap.Error(err))
		}
	}
	return addr, nil
}

// cacheKey returns the SHA-256 hex of the prompt input.
func cacheKey(text string) string {
	h := sha256.Sum256([]byte(AddressPrompt + "\x00" + text))
	return fmt.Sprintf("%x", h)
}

// Guard wraps a generator with a circuit breaker and retry policy. When the
// breaker is open, calls fail fast instead of waiting out the full timeout.
func Guard(gen Generator, cb *resilience.CircuitBreaker, retry resilience.RetryConfig) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
			if cb == nil {
				return gen.Generate(ctx, prompt)
			}
			return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (string, error) {
				return gen.Generate(ctx, prompt)
			})
		})
	})
}
