// Hands-free voice assistant: listens, transcribes, streams a reply and speaks it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/handsfree/internal/audio"
	"github.com/GriffinCanCode/handsfree/internal/chat"
	"github.com/GriffinCanCode/handsfree/internal/config"
	"github.com/GriffinCanCode/handsfree/internal/conversation"
	"github.com/GriffinCanCode/handsfree/internal/grpcclient"
	"github.com/GriffinCanCode/handsfree/internal/logger"
	"github.com/GriffinCanCode/handsfree/internal/orchestrator"
	"github.com/GriffinCanCode/handsfree/internal/server"
	"github.com/GriffinCanCode/handsfree/internal/storage"
	"github.com/GriffinCanCode/handsfree/internal/transcribe"
	"github.com/GriffinCanCode/handsfree/internal/tts"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ProxyGRPCAddr != "" {
		proxy, err := grpcclient.New(cfg.ProxyGRPCAddr, log)
		if err != nil {
			return err
		}
		err = proxy.WaitReady(ctx, "", 0)
		_ = proxy.Close()
		if err != nil {
			return err
		}
	}

	oa := newOpenAI(cfg)

	transcriber, closeSTT, err := newTranscriber(ctx, cfg, oa)
	if err != nil {
		return err
	}
	defer closeSTT()

	provider, err := newProvider(ctx, cfg, oa)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	writer := storage.NewWriter(store, 0, log)
	defer func() {
		writer.Stop()
		closeStore()
	}()

	host := audio.NewHost()
	source := audio.NewPortAudioSource(host, cfg.InputDevice, log)
	player := audio.NewPortAudioPlayer(host, cfg.TTSSampleRate, log)
	defer func() { _ = player.Close() }()

	settings := config.NewSettingsStore(cfg.Settings)
	conversationID := uuid.NewString()

	loop := orchestrator.New(orchestrator.Deps{
		Source:      source,
		Player:      player,
		Transcriber: transcribe.NewResilient(transcriber, log),
		Provider:    provider,
		Synthesizer: tts.NewOpenAISynthesizer(oa, log),
		Store:       writer,
		Settings:    settings,
		Logger:      log,
	}, orchestrator.Options{
		ConversationID:     conversationID,
		AutoListen:         cfg.AutoListen,
		ErrorRecoveryDelay: cfg.ErrorRecoveryDelay,
		Engine: audio.EngineConfig{
			ListenTimeout: cfg.ListenTimeout,
			Silence:       cfg.VADSilence,
			MinSpeech:     cfg.VADMinSpeech,
		},
		ChunkMinLength: cfg.ChunkMinLength,
		TTSConcurrency: cfg.TTSConcurrency,
		Voice: tts.VoiceConfig{
			Model:        cfg.TTSModel,
			Voice:        cfg.TTSVoice,
			Format:       cfg.TTSFormat,
			SampleRate:   cfg.TTSSampleRate,
			Instructions: cfg.TTSInstructions,
			Speed:        cfg.Settings.PlaybackSpeed,
		},
	})
	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	health := server.NewHealth(log)
	go health.Track(ctx, loop)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Error("grpc health server error", zap.Error(err))
		}
	}()
	defer health.Stop()

	srv := server.New(loop, settings, cfg, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("voice assistant starting",
			zap.String("http", cfg.HTTPAddr),
			zap.String("grpc", cfg.GRPCAddr),
			zap.String("conversation_id", conversationID),
			zap.String("llm", provider.Name()),
			zap.String("stt", cfg.STTProvider))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func newOpenAI(cfg *config.Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	return openai.NewClientWithConfig(oc)
}

func newTranscriber(ctx context.Context, cfg *config.Config, oa *openai.Client) (transcribe.Client, func(), error) {
	if cfg.STTProvider == config.ProviderGoogle {
		gc, err := transcribe.NewGoogleClient(ctx, cfg.STTLanguage)
		if err != nil {
			return nil, nil, fmt.Errorf("google speech client: %w", err)
		}
		return gc, func() { _ = gc.Close() }, nil
	}
	return transcribe.NewOpenAIClient(oa, cfg.OpenAISTTModel, cfg.STTLanguage), func() {}, nil
}

func newProvider(ctx context.Context, cfg *config.Config, oa *openai.Client) (chat.Provider, error) {
	if cfg.LLMProvider == config.ProviderGemini {
		client, err := chat.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return chat.NewGeminiProvider(client, cfg.GeminiModel, cfg.SystemPrompt), nil
	}
	return chat.NewOpenAIProvider(oa, cfg.OpenAIChatModel, cfg.SystemPrompt), nil
}

// newStore keeps audio chunks on disk and messages in MongoDB when
// MONGODB_URI is set, otherwise next to the audio as JSON lines.
func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (conversation.Store, func(), error) {
	files, err := storage.NewFileStore(cfg.AudioDir)
	if err != nil {
		return nil, nil, fmt.Errorf("audio dir: %w", err)
	}
	if cfg.MongoURI == "" {
		return files, func() {}, nil
	}

	client, err := storage.ConnectMongo(ctx, cfg.MongoURI, log)
	if err != nil {
		return nil, nil, err
	}
	mongoStore := storage.NewMongoStore(client, cfg.MongoDatabase, files, log)
	return mongoStore, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoStore.Close(closeCtx)
	}, nil
}
