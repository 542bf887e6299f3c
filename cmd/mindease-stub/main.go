package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/config"
	"github.com/zhouzirui/mindease/client/internal/handler"
	"github.com/zhouzirui/mindease/client/internal/observability"
	"github.com/zhouzirui/mindease/client/internal/service/ai"
	"github.com/zhouzirui/mindease/client/internal/service/companion"
	moodservice "github.com/zhouzirui/mindease/client/internal/service/mood"
	"github.com/zhouzirui/mindease/client/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger := observability.Logger()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := observability.Setup(os.Stderr, observability.Format(cfg.Log.Format), cfg.Log.Level)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		cm, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize chat model, continuing with canned replies")
		} else {
			chatModel = cm
			logger.Info().Str("model", cfg.AI.Model).Msg("chat model initialized")
		}
	} else {
		logger.Info().Msg("Ark 凭证未配置，使用预设回复")
	}

	responder, err := ai.NewService(ctx, chatModel, observability.Component("ai"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize reply service")
	}

	classifier, err := moodservice.NewService(ctx, chatModel, moodservice.Config{
		Enabled:      cfg.AI.EmotionLLMEnabled,
		HistoryLimit: cfg.AI.EmotionHistoryLimit,
	}, observability.Component("mood"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize mood classifier")
	}
	if classifier.Enabled() {
		logger.Info().Msg("mood classifier uses the chat model")
	} else {
		logger.Info().Msg("mood classifier uses keyword heuristics")
	}

	var transcriber companion.Transcriber
	if cfg.Speech.Enabled {
		transcriber = speech.NewASRClient(cfg.Speech, observability.Component("asr"))
		logger.Info().Msg("speech transcription enabled")
	} else {
		logger.Info().Msg("语音服务凭证未配置，录音将无法转写")
	}

	svc := companion.NewService(companion.NewStore(time.Now), classifier, responder, transcriber, observability.Component("companion"))
	router := handler.NewRouter(svc, handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestLog:     logger.GetLevel() <= zerolog.DebugLevel,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("MindEase stand-in backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
