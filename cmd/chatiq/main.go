// Command chatiq runs the retrieval-augmented chat service: it consumes
// platform events over a websocket, resolves per-channel settings,
// retrieves channel memory, invokes the model, and posts responses back.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yujiosaka/ChatIQ/assemble"
	"github.com/yujiosaka/ChatIQ/config"
	"github.com/yujiosaka/ChatIQ/engine"
	"github.com/yujiosaka/ChatIQ/extract"
	"github.com/yujiosaka/ChatIQ/gateway"
	"github.com/yujiosaka/ChatIQ/memory"
	"github.com/yujiosaka/ChatIQ/memory/embedder/mock"
	"github.com/yujiosaka/ChatIQ/memory/embedder/openai"
	"github.com/yujiosaka/ChatIQ/memory/store/chromem"
	"github.com/yujiosaka/ChatIQ/observ"
	anthropicprovider "github.com/yujiosaka/ChatIQ/provider/anthropic"
	"github.com/yujiosaka/ChatIQ/settings"
	"github.com/yujiosaka/ChatIQ/tokenizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tok, err := tokenizer.New(tokenizer.DefaultEncoding)
	if err != nil {
		return err
	}

	var embedder memory.Embedder
	if cfg.OpenAIKey != "" {
		embedder = openai.New(openai.Config{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.EmbeddingModel,
		})
	} else {
		log.Warn("OPENAI_API_KEY not set, using the deterministic test embedder")
		embedder = mock.New()
	}

	store, err := chromem.New(cfg.StorePath, embedder, log)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver, err := settings.NewResolver(log)
	if err != nil {
		return err
	}

	fetcher, err := extract.NewHTTPFetcher()
	if err != nil {
		return err
	}
	extractor := extract.New(fetcher, extract.NewPDFParser(), tok, log,
		extract.WithChunking(cfg.ChunkTokens, cfg.ChunkOverlap))

	assembler := assemble.New(store, tok, log,
		assemble.WithCandidateK(cfg.CandidateK),
		assemble.WithBudget(cfg.TokenBudget))

	provider := anthropicprovider.New(cfg.AnthropicKey, log,
		anthropicprovider.WithModel(cfg.Model))

	sink := gateway.NewHTTPSink(cfg.PostEndpoint, cfg.PostToken, log)

	eng := engine.New(resolver, assembler, extractor, store, provider, sink, log,
		engine.WithRetry(cfg.MaxAttempts, cfg.BackoffBase),
		engine.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst), cfg.MaxWait))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !eng.Healthy(r.Context()) {
			http.Error(w, "memory store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", zap.Error(err))
		}
	}()

	client := gateway.NewClient(cfg.GatewayURL, eng, log)
	log.Info("chatiq started",
		zap.String("env", cfg.Env),
		zap.String("model", cfg.Model),
		zap.Int("token_budget", cfg.TokenBudget))
	err = client.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}

	log.Info("shutting down")
	eng.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
