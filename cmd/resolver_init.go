package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/labelmatch/internal/config"
	"github.com/sells-group/labelmatch/internal/extract"
	"github.com/sells-group/labelmatch/internal/match"
	"github.com/sells-group/labelmatch/internal/ner"
	"github.com/sells-group/labelmatch/internal/recipient"
	"github.com/sells-group/labelmatch/internal/resilience"
	"github.com/sells-group/labelmatch/internal/resolver"
	"github.com/sells-group/labelmatch/internal/store"
	anthropicpkg "github.com/sells-group/labelmatch/pkg/anthropic"
	"github.com/sells-group/labelmatch/pkg/ollama"
)

// resolverEnv holds the resolver and the resources it owns, shared by the
// resolve and serve commands.
type resolverEnv struct {
	Store    store.Store // nil when persistence is disabled
	Resolver *resolver.Resolver
	Breakers *resilience.Breakers
}

// Close releases resources held by the environment.
func (re *resolverEnv) Close() {
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// initResolver loads the recipient database, opens the store and builds the
// extractor chains. source tags persisted runs. Callers should defer
// env.Close().
func initResolver(ctx context.Context, source string) (*resolverEnv, error) {
	records, err := recipient.Load(cfg.Recipients.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load recipients")
	}
	zap.L().Info("recipients loaded",
		zap.String("path", cfg.Recipients.Path),
		zap.Int("count", len(records)),
	)

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &resolverEnv{
		Store:    st,
		Breakers: resilience.NewBreakers(cfg.Resilience.Breaker()),
	}

	gen, err := newGenerator()
	if err != nil {
		env.Close()
		return nil, err
	}

	var cache extract.Cache
	if st != nil {
		cache = st
	}

	opts := []resolver.Option{
		resolver.WithNames(buildNames(env.Breakers)),
		resolver.WithAddresses(buildAddresses(gen, env.Breakers, cache)),
		resolver.WithMatcher(match.NewMatcher(cfg.Match)),
		resolver.WithSource(source),
	}
	if st != nil {
		opts = append(opts, resolver.WithStore(st))
	}
	env.Resolver = resolver.New(records, opts...)

	return env, nil
}

// initStore opens and migrates the configured store. It returns nil when
// persistence is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", config.DriverNone:
		return nil, nil
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore is initStore for commands that cannot run without one.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("store is disabled (set store.driver to sqlite or postgres)")
	}
	return st, nil
}

// newGenerator returns the configured text-generation backend, or nil when
// llm.provider is none.
func newGenerator() (extract.Generator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOllama:
		client := ollama.NewClient(
			ollama.WithBaseURL(cfg.Ollama.URL),
			ollama.WithModel(cfg.Ollama.Model),
			ollama.WithTimeout(time.Duration(cfg.Ollama.TimeoutSecs)*time.Second),
			ollama.WithRateLimit(cfg.Ollama.RatePerSec),
		)
		return ollama.Generator{Client: client}, nil
	case config.ProviderAnthropic:
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required (LABELMATCH_ANTHROPIC_KEY)")
		}
		return anthropicpkg.Generator{
			Client:    anthropicpkg.NewClient(cfg.Anthropic.Key),
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		}, nil
	case config.ProviderNone, "":
		return nil, nil
	}
	return nil, eris.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}

// buildNames returns the recognizer-then-heuristic chain, or the heuristic
// alone when no recognizer is configured.
func buildNames(breakers *resilience.Breakers) extract.NameExtractor {
	window := extract.NewWindowNames(cfg.Extract.Stopwords...)
	if cfg.NER.URL == "" {
		return window
	}

	rec := ner.NewHTTPRecognizer(cfg.NER.URL,
		ner.WithTimeout(time.Duration(cfg.NER.TimeoutSecs)*time.Second),
	)
	zap.L().Info("entity recognizer enabled", zap.String("url", cfg.NER.URL))
	return extract.NameChain{
		extract.NewEntityNames(extract.GuardRecognizer(rec, breakers.Get("ner"))),
		window,
	}
}

// buildAddresses returns the model-then-pattern chain for the llm strategy,
// or the pattern alone.
func buildAddresses(gen extract.Generator, breakers *resilience.Breakers, cache extract.Cache) extract.AddressExtractor {
	pattern := extract.NewPatternAddresses()
	if cfg.Extract.AddressStrategy == config.StrategyPattern || gen == nil {
		return pattern
	}

	service := cfg.LLM.Provider
	retry := cfg.Resilience.Retry()
	retry.OnRetry = resilience.RetryLogger(service)
	guarded := extract.Guard(gen, breakers.Get(service), retry)

	var opts []extract.LLMOption
	if cache != nil && cfg.Cache.TTL() > 0 {
		opts = append(opts, extract.WithCache(cache, cfg.Cache.TTL()))
	}
	return extract.AddressChain{extract.NewLLMAddresses(guarded, opts...), pattern}
}
