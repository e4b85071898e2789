package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pathwise/pathwise/internal/coaching/background"
	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/notes"
	"github.com/pathwise/pathwise/internal/coaching/pipeline"
	"github.com/pathwise/pathwise/internal/coaching/profiles"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/storage"
	"github.com/pathwise/pathwise/internal/coaching/strategist"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/coaching/wins"
	"github.com/pathwise/pathwise/internal/config"
	"github.com/pathwise/pathwise/internal/llm"
)

// AppState holds all application services
type AppState struct {
	Logger         *zap.Logger
	DB             *bun.DB
	SessionService sessions.SessionManager
	SessionStore   sessions.SessionStore
	Suggestions    suggestions.Store
	FocusAreas     focusareas.Store
	Wins           wins.Store
	Profiles       profiles.Store
	Opener         *pipeline.Opener
	Closer         *pipeline.ClosePipeline
	Runner         *background.Runner
}

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	config.Load()

	logger := initLogger()
	logger.Info("Configuration loaded", zap.String("source", "config.Load()"))

	as, err := newAppState(logger)
	if err != nil {
		logger.Fatal("Failed to initialize application state", zap.Error(err))
	}

	router := setupRouter(as)

	addr := fmt.Sprintf("%s:%d", config.Http().Host, config.Http().Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	done := setupSignalHandler(as, server, logger)

	logger.Info("Starting Pathwise server", zap.String("address", addr))

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	<-done
	logger.Info("Server shutdown complete")
}

// newAppState creates and initializes the application state
func newAppState(logger *zap.Logger) (*AppState, error) {
	pgConfig := config.Postgres()

	logger.Info("Database configuration",
		zap.String("host", pgConfig.Host),
		zap.Int("port", pgConfig.Port),
		zap.String("database", pgConfig.Database),
		zap.String("user", pgConfig.User))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.Connect(ctx, pgConfig.DSN(), pgConfig.MaxOpenConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations completed")

	llmConfig := config.LLM()
	generatorConfig := llm.DefaultConfig(llmConfig.APIKey)
	if llmConfig.ChatModel != "" {
		generatorConfig.ChatModel = llmConfig.ChatModel
	}
	if llmConfig.Temperature != 0 {
		generatorConfig.Temperature = llmConfig.Temperature
	}
	generator, err := llm.NewOpenAIGenerator(generatorConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	sessionStore := sessions.NewPostgresStore(db)
	understandingStore := understanding.NewPostgresStore(db)
	suggestionStore := suggestions.NewPostgresStore(db)
	focusAreaStore := focusareas.NewPostgresStore(db)
	winStore := wins.NewPostgresStore(db)
	profileStore := profiles.NewPostgresStore(db)

	strategistSvc := strategist.NewStrategist(generator, logger)
	notesGenerator := notes.NewGenerator(generator, logger)
	runner := background.NewRunner(logger, time.Duration(llmConfig.BackgroundTimeoutSeconds)*time.Second)

	closer := pipeline.NewClosePipeline(sessionStore, understandingStore, suggestionStore,
		focusAreaStore, winStore, profileStore, notesGenerator, strategistSvc, logger)
	opener := pipeline.NewOpener(sessionStore, profileStore, focusAreaStore, suggestionStore,
		understandingStore, generator, strategistSvc, closer, runner, logger)

	return &AppState{
		Logger:         logger,
		DB:             db,
		SessionService: sessions.NewService(sessionStore),
		SessionStore:   sessionStore,
		Suggestions:    suggestionStore,
		FocusAreas:     focusAreaStore,
		Wins:           winStore,
		Profiles:       profileStore,
		Opener:         opener,
		Closer:         closer,
		Runner:         runner,
	}, nil
}

func initLogger() *zap.Logger {
	logConfig := config.Logger()

	var zapConfig zap.Config
	if logConfig.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	switch logConfig.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}

func setupRouter(as *AppState) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(cors.Default())
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		if err := storage.HealthCheck(c.Request.Context(), as.DB); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"timestamp": time.Now().Format(time.RFC3339),
				"error":     err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"services": gin.H{
				"database": "healthy",
			},
		})
	})

	v1 := router.Group("/coaching/v1")
	{
		v1.POST("/sessions/open", openSession(as))
		v1.POST("/sessions/:sessionId/close", closeSession(as))
		v1.POST("/sessions/:sessionId/messages", appendMessage(as))
		v1.GET("/sessions/:sessionId", getSession(as))
		v1.GET("/users/:userId/suggestions", getSuggestions(as))
		v1.GET("/users/:userId/focus-areas", getFocusAreas(as))
		v1.POST("/users/:userId/wins", logWin(as))
		v1.GET("/users/:userId/profile", getProfile(as))
		v1.PUT("/users/:userId/profile", upsertProfile(as))
	}

	return router
}

func setupSignalHandler(as *AppState, server *http.Server, logger *zap.Logger) chan struct{} {
	done := make(chan struct{}, 1)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalCh

		logger.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}

		// Let in-flight deferred closes and retries finish before the
		// database goes away.
		as.Runner.Wait()

		if err := as.DB.Close(); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}

		done <- struct{}{}
	}()

	return done
}

type openSessionRequest struct {
	UserID                  string `json:"user_id"`
	PreviousSessionID       string `json:"previous_session_id,omitempty"`
	SelectedSuggestionIndex *int   `json:"selected_suggestion_index,omitempty"`
	ContinuationNotes       string `json:"continuation_notes,omitempty"`
}

// openSession streams the opening message over SSE: a session event with the
// new session id, delta events while the opening message generates, and one
// done event. The evolution work for the previous session runs after the
// stream has ended.
func openSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req openSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		foreground := time.Duration(config.LLM().ForegroundTimeoutSeconds) * time.Second
		ctx, cancel := context.WithTimeout(c.Request.Context(), foreground)
		defer cancel()

		result, err := as.Opener.Open(ctx, pipeline.OpenRequest{
			UserID:                  req.UserID,
			PreviousSessionID:       req.PreviousSessionID,
			SelectedSuggestionIndex: req.SelectedSuggestionIndex,
			ContinuationNotes:       req.ContinuationNotes,
		}, func(delta string) {
			writeSSE(c, "delta", gin.H{"delta": delta})
		})
		if err != nil {
			as.Logger.Error("Failed to open session", zap.Error(err))
			writeSSE(c, "error", gin.H{"error": "Failed to open session"})
			return
		}

		writeSSE(c, "done", gin.H{
			"session_id": result.Session.SessionID,
			"title":      result.Session.Title,
		})
	}
}

func writeSSE(c *gin.Context, event string, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

func closeSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
			return
		}

		result, err := as.Closer.Run(c.Request.Context(), sessionID, "explicit_close")
		if err != nil {
			as.Logger.Error("Failed to close session",
				zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to close session"})
			return
		}

		if result.Deleted {
			c.JSON(http.StatusOK, gin.H{"deleted": true})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deleted":       false,
			"session_notes": result.Notes,
		})
	}
}

func appendMessage(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessions.AppendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.SessionID = c.Param("sessionId")

		message, err := as.SessionService.AppendMessage(c.Request.Context(), &req)
		if err != nil {
			as.Logger.Error("Failed to append message",
				zap.String("session_id", req.SessionID), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, message)
	}
}

func getSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		session, err := as.SessionStore.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			as.Logger.Error("Failed to load session",
				zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load session"})
			return
		}
		if session == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		transcript, err := as.SessionStore.GetMessages(c.Request.Context(), sessionID)
		if err != nil {
			as.Logger.Error("Failed to load transcript",
				zap.String("session_id", sessionID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transcript"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"session":  session,
			"messages": transcript,
		})
	}
}

func getSuggestions(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		set, err := as.Suggestions.Latest(c.Request.Context(), userID)
		if err != nil {
			as.Logger.Error("Failed to load suggestions",
				zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load suggestions"})
			return
		}
		if set == nil {
			c.JSON(http.StatusOK, gin.H{"suggestions": []suggestions.SessionSuggestion{}})
			return
		}

		c.JSON(http.StatusOK, set)
	}
}

func getFocusAreas(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		areas, err := as.FocusAreas.ListActive(c.Request.Context(), userID)
		if err != nil {
			as.Logger.Error("Failed to load focus areas",
				zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load focus areas"})
			return
		}
		if areas == nil {
			areas = []focusareas.FocusArea{}
		}

		c.JSON(http.StatusOK, gin.H{"focus_areas": areas})
	}
}

func getProfile(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		profile, err := as.Profiles.Get(c.Request.Context(), userID)
		if err != nil {
			as.Logger.Error("Failed to load profile",
				zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
			return
		}
		if profile == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}

		c.JSON(http.StatusOK, profile)
	}
}

func upsertProfile(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var profile profiles.Profile
		if err := c.ShouldBindJSON(&profile); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		profile.UserID = c.Param("userId")

		if err := as.Profiles.Upsert(c.Request.Context(), &profile); err != nil {
			as.Logger.Error("Failed to save profile",
				zap.String("user_id", profile.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save profile"})
			return
		}

		c.JSON(http.StatusOK, profile)
	}
}

func logWin(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req wins.LogWinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.UserID = c.Param("userId")
		if req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
			return
		}

		win := wins.NewWin(&req)
		if err := as.Wins.Create(c.Request.Context(), win); err != nil {
			as.Logger.Error("Failed to log win",
				zap.String("user_id", req.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log win"})
			return
		}

		c.JSON(http.StatusCreated, win)
	}
}
