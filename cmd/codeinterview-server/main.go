package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codeinterview/codeinterview/internal/config"
	"github.com/codeinterview/codeinterview/internal/sessions"
	"github.com/codeinterview/codeinterview/internal/ws"
)

const (
	serviceName    = "CodeInterview API"
	serviceVersion = "1.0.0"
)

// AppState holds all application services
type AppState struct {
	Logger         *zap.Logger
	Config         *config.Config
	SessionService sessions.SessionManager
	Hub            *ws.Hub

	closers []func() error
}

func main() {
	// Load configuration
	config.Load()

	// Initialize logger with config
	logger := initLogger()

	// Initialize application state
	as, err := newAppState(logger)
	if err != nil {
		logger.Fatal("Failed to initialize application state", zap.Error(err))
	}

	// Create HTTP server
	router := setupRouter(as)

	addr := fmt.Sprintf("%s:%d", config.Http().Host, config.Http().Port)

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Setup graceful shutdown
	done := setupSignalHandler(as, server, logger)

	logger.Info("Starting CodeInterview server",
		zap.String("address", addr),
		zap.String("session_store", config.Session().Store),
		zap.Int("expiration_hours", config.Session().ExpirationHours))

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	<-done
	logger.Info("Server shutdown complete")
}

// newAppState creates and initializes the application state
func newAppState(logger *zap.Logger) (*AppState, error) {
	as := &AppState{
		Logger: logger,
		Config: config.Get(),
		Hub:    ws.NewHub(logger),
	}

	expiration := time.Duration(config.Session().ExpirationHours) * time.Hour

	ctx := context.Background()

	var store sessions.SessionStore
	switch config.Session().Store {
	case "memory":
		logger.Warn("Using in-memory session store, sessions will not survive a restart")
		store = sessions.NewInMemoryStore()

	case "redis":
		redisConfig := config.Redis()
		logger.Info("Redis configuration",
			zap.String("addr", redisConfig.Addr()),
			zap.Int("database", redisConfig.Database))

		client := redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr(),
			Password: redisConfig.Password,
			DB:       redisConfig.Database,
		})
		redisStore := sessions.NewRedisStore(client)
		if err := redisStore.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		as.closers = append(as.closers, client.Close)
		store = redisStore

	case "postgres", "":
		pgConfig := config.Postgres()
		logger.Info("Database configuration",
			zap.String("host", pgConfig.Host),
			zap.Int("port", pgConfig.Port),
			zap.String("database", pgConfig.Database),
			zap.String("user", pgConfig.User))

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(pgConfig.DSN())))
		db := bun.NewDB(sqldb, pgdialect.New())

		pgStore := sessions.NewPostgresStore(db)
		if err := pgStore.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		as.closers = append(as.closers, db.Close)
		store = pgStore

	default:
		return nil, fmt.Errorf("unknown session store %q (expected memory, postgres or redis)", config.Session().Store)
	}

	as.SessionService = sessions.NewService(store, expiration)
	return as, nil
}

func initLogger() *zap.Logger {
	logConfig := config.Logger()

	var zapConfig zap.Config
	if logConfig.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Set log level
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

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = config.Cors().Origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Root endpoint
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": serviceName,
			"version": serviceVersion,
			"docs":    "/docs",
		})
	})

	api := router.Group("/api/v1")

	// Liveness probe
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	// Session Management
	sessionRoutes := api.Group("/sessions")
	{
		sessionRoutes.POST("", createSession(as))
		sessionRoutes.GET("/:sessionId", getSession(as))
		sessionRoutes.PATCH("/:sessionId", updateSession(as))
		sessionRoutes.DELETE("/:sessionId", deleteSession(as))
		sessionRoutes.POST("/:sessionId/join", joinSession(as))
		sessionRoutes.PUT("/:sessionId/code", saveCode(as))

		// Participant Management
		participants := sessionRoutes.Group("/:sessionId/participants")
		{
			participants.GET("", listParticipants(as))
			participants.DELETE("/:participantId", removeParticipant(as))
			participants.PATCH("/:participantId", updateParticipant(as))
		}
	}

	// Real-time collaboration channel
	wsHandler := ws.NewHandler(as.Hub, as.Logger, config.Cors().Origins)
	router.GET("/ws/sessions/:sessionId", wsHandler.Serve)

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

		for _, closer := range as.closers {
			if err := closer(); err != nil {
				logger.Error("Error closing resource", zap.Error(err))
			}
		}

		done <- struct{}{}
	}()

	return done
}

// handleServiceError translates service errors into HTTP responses following
// the error taxonomy: validation → 400, not found → 404, expired → 410,
// anything else → 500.
func handleServiceError(c *gin.Context, as *AppState, err error, operation string) {
	switch {
	case sessions.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
	case sessions.IsSessionNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Session not found", "code": "SESSION_NOT_FOUND"})
	case sessions.IsSessionExpired(err):
		c.JSON(http.StatusGone, gin.H{"success": false, "error": "Session has expired", "code": "SESSION_EXPIRED"})
	case sessions.IsParticipantNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Participant not found", "code": "PARTICIPANT_NOT_FOUND"})
	default:
		as.Logger.Error("Request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
	}
}

// Handler functions for the session API

func createSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sessions.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		session, err := as.SessionService.CreateSession(c.Request.Context(), &req)
		if err != nil {
			handleServiceError(c, as, err, "create session")
			return
		}

		as.Logger.Info("Session created",
			zap.String("session_id", session.ID),
			zap.String("creator_id", session.CreatorID))

		c.JSON(http.StatusCreated, gin.H{"success": true, "data": session})
	}
}

func getSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		session, err := as.SessionService.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			handleServiceError(c, as, err, "get session")
			return
		}

		// Expiry is a separate, explicit check on the stored field
		if as.SessionService.IsExpired(session) {
			c.JSON(http.StatusGone, gin.H{"success": false, "error": "Session has expired", "code": "SESSION_EXPIRED"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
	}
}

func updateSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		var req sessions.UpdateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		session, err := as.SessionService.UpdateSession(c.Request.Context(), sessionID, &req)
		if err != nil {
			handleServiceError(c, as, err, "update session")
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
	}
}

func deleteSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		if err := as.SessionService.DeleteSession(c.Request.Context(), sessionID); err != nil {
			handleServiceError(c, as, err, "delete session")
			return
		}

		as.Logger.Info("Session deleted", zap.String("session_id", sessionID))

		c.Status(http.StatusNoContent)
	}
}

func joinSession(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		var req sessions.JoinSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		session, err := as.SessionService.Join(c.Request.Context(), sessionID, req.User)
		if err != nil {
			handleServiceError(c, as, err, "join session")
			return
		}

		as.Logger.Info("Participant joined",
			zap.String("session_id", sessionID),
			zap.String("participant_id", req.User.ID))

		c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
	}
}

func saveCode(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		var req sessions.CodeSnapshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		session, err := as.SessionService.SaveCode(c.Request.Context(), sessionID, &req)
		if err != nil {
			handleServiceError(c, as, err, "save code")
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
	}
}

func listParticipants(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		participants, err := as.SessionService.ListParticipants(c.Request.Context(), sessionID)
		if err != nil {
			handleServiceError(c, as, err, "list participants")
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"participants": participants}})
	}
}

func removeParticipant(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		participantID := c.Param("participantId")

		if err := as.SessionService.RemoveParticipant(c.Request.Context(), sessionID, participantID); err != nil {
			handleServiceError(c, as, err, "remove participant")
			return
		}

		as.Logger.Info("Participant removed",
			zap.String("session_id", sessionID),
			zap.String("participant_id", participantID))

		c.Status(http.StatusNoContent)
	}
}

func updateParticipant(as *AppState) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		participantID := c.Param("participantId")

		var req sessions.UpdateParticipantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		participant, err := as.SessionService.UpdateParticipant(c.Request.Context(), sessionID, participantID, &req)
		if err != nil {
			handleServiceError(c, as, err, "update participant")
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": participant})
	}
}
