package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"taskchat/agent"
	"taskchat/controller"
	"taskchat/llm"
	"taskchat/model"
	"taskchat/platform"
	"taskchat/service"
)

func main() {
	fmt.Println("Server started...")

	//Load the .env file
	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("failed to load the env file")
	}
	settings := platform.LoadSettings()

	if err := platform.InitAppLogger(settings.LogPath, "taskchat", settings.LogLevel); err != nil {
		fmt.Println("failed to open the log file:", err)
	}
	if err := platform.InitFile(settings.LogPath, "gin"); err != nil {
		fmt.Println("failed to open the gin log file:", err)
	}
	logger := platform.Logger

	if settings.AccessSecret == "" {
		logger.Fatal("ACCESS_SECRET must be set")
	}

	//init database
	db, err := platform.InitDB(settings)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := model.InstallDB(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	client := llm.NewOpenAIClient(platform.InitLLMClient(settings), settings.LLMModel, logger)
	cfg := agent.DefaultConfig()
	cfg.MaxHistory = settings.AgentMaxHistory
	cfg.MaxRounds = settings.AgentMaxRounds
	cfg.Temperature = settings.LLMTemperature
	cfg.MaxTokens = settings.LLMMaxTokens
	cfg.RetryMaxAttempts = settings.RetryMaxAttempts
	cfg.RetryBaseDelay = settings.RetryBaseDelay
	cfg.RetryMaxDelay = settings.RetryMaxDelay

	if settings.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	tokens := service.NewTokenService(settings.AccessSecret)
	r := controller.NewRouter(controller.Services{
		Tokens:      tokens,
		Users:       service.NewUserService(model.NewUserRepository(db), tokens, logger),
		Chat:        service.NewChatService(db, client, cfg, logger),
		CORSOrigins: settings.CORSOrigins,
	})
	stats, err := service.StartStatsJob(db, settings.StatsCron, logger)
	if err != nil {
		logger.Fatalf("Failed to schedule stats job: %v", err)
	}

	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}
	go func() {
		logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	<-stats.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}
}
