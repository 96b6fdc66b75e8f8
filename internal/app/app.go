package app

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/migoto-coach/internal/config"
	"github.com/xpanvictor/migoto-coach/internal/database"
	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/metrics"
	"github.com/xpanvictor/migoto-coach/internal/domains/learner"
	"github.com/xpanvictor/migoto-coach/internal/handlers"
	"github.com/xpanvictor/migoto-coach/internal/handlers/websocket"
	attemptRepo "github.com/xpanvictor/migoto-coach/internal/repository/attempt"
	transcriptRepo "github.com/xpanvictor/migoto-coach/internal/repository/transcript"
	"github.com/xpanvictor/migoto-coach/internal/server"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/chatapi"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
	openaistt "github.com/xpanvictor/migoto-coach/pkg/io/stt/openai"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt/vad"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt/whisper"
	"gorm.io/gorm"
)

const metricsNamespace = "coach"

// App represents the application with all its dependencies
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Chat        *chatapi.Client
	Transcriber stt.Transcriber
	Gate        vad.Detector
	Recorder    *metrics.PrometheusRecorder
	Attempts    *attempt.Service
	WebSocket   *websocket.WebSocketHandler
	ServerDeps  server.Dependencies
}

// NewApp wires the application. db and rc are optional: without MySQL no
// attempt log is kept, without Redis transcripts live in memory.
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		RC:     rc,
	}

	if err := app.setupDependencies(); err != nil {
		return nil, err
	}

	return app, nil
}

// Connect opens the stores the configuration asks for.
func Connect(cfg *config.Settings, logger *Logger.Logger) (*gorm.DB, *redis.Client, error) {
	var db *gorm.DB
	if cfg.DB.Host != "" {
		var err error
		if db, err = database.InitDB(cfg.DB, logger); err != nil {
			return nil, nil, err
		}
		if err := database.MigrateDB(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	} else {
		logger.Warn("database.host not set, attempt history is disabled")
	}

	var rc *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		if rc, err = database.NewRedis(cfg.Redis); err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warn("redis.addr not set, transcripts are kept in memory")
	}
	return db, rc, nil
}

func (a *App) setupDependencies() error {
	transcriber, err := a.newTranscriber()
	if err != nil {
		return err
	}
	a.Transcriber = transcriber
	a.Gate = a.newGate()
	a.Chat = chatapi.New(a.Config.Chat.BaseURL, a.Config.Chat.RequestTimeout, a.Logger)
	a.Recorder = metrics.NewPrometheusRecorder(metricsNamespace)

	var attempts attempt.AttemptRepository
	if a.DB != nil {
		attempts = attemptRepo.NewGormAttemptRepo(a.DB)
	}
	var transcripts attempt.TranscriptStore
	if a.RC != nil {
		ttl := time.Duration(a.Config.Redis.TranscriptTTL) * time.Hour
		transcripts = transcriptRepo.NewRedisTranscriptRepo(a.RC, ttl)
	} else {
		transcripts = transcriptRepo.NewMemoryTranscriptRepo()
	}
	a.Attempts = attempt.NewService(attempts, transcripts, a.Logger)

	a.WebSocket = websocket.NewWebSocketHandler(a.Logger, websocket.Pipeline{
		Chat:        a.Chat,
		Transcriber: a.Transcriber,
		Gate:        a.Gate,
		Decoder:     playback.Decoder{Timeout: a.Config.Chat.RequestTimeout},
		Archiver:    a.Attempts,
		Recorder:    a.Recorder,
		Voice:       a.Config.Voice,
		ChatConfig:  a.Config.Chat,
	}, a.Config.Server.SessionTimeout)

	a.ServerDeps = server.Dependencies{
		Logger:           a.Logger,
		Configs:          a.Config,
		Validator:        learner.NewAuthenticator(a.Config.Auth.JWTSecret),
		WebSocketHandler: a.WebSocket,
		SessionHandler:   handlers.NewSessionHandler(a.Attempts, handlers.NewChatReportSource(a.Chat), a.Logger),
		Registry:         a.Recorder.Registry(),
	}
	return nil
}

func (a *App) newTranscriber() (stt.Transcriber, error) {
	v := a.Config.Voice
	switch v.STTBackend {
	case "whisper":
		return whisper.NewWhisperClient(v.STTURL, a.Logger), nil
	case "openai":
		return openaistt.New(v.OpenAIKey, v.OpenAIBaseURL, a.Logger), nil
	}
	return nil, fmt.Errorf("unknown stt backend %q", v.STTBackend)
}

func (a *App) newGate() vad.Detector {
	v := a.Config.Voice
	switch v.VADMode {
	case "energy":
		return vad.NewEnergy(v.VAD)
	case "silero":
		return vad.NewSilero(v.VADURL, v.VAD, a.Logger)
	}
	return nil
}

// Close releases connections and stores.
func (a *App) Close() {
	if a.WebSocket != nil {
		_ = a.WebSocket.Close()
	}
	if a.RC != nil {
		_ = a.RC.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
