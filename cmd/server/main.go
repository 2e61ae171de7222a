package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/topicreel/api/internal/client"
	"github.com/topicreel/api/internal/config"
	"github.com/topicreel/api/internal/encoder"
	"github.com/topicreel/api/internal/handler"
	"github.com/topicreel/api/internal/middleware"
	"github.com/topicreel/api/internal/model"
	"github.com/topicreel/api/internal/pipeline"
	"github.com/topicreel/api/internal/registry"
	"github.com/topicreel/api/internal/service"
	"github.com/topicreel/api/internal/stage"
	ws "github.com/topicreel/api/internal/websocket"
)

func main() {
	// Load .env if present (development convenience)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisUp = false
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	groqClient := client.NewGroqClient(&cfg.LLM)
	ttsClient := client.NewTTSClient(&cfg.TTS)
	pexelsClient := client.NewPexelsClient(&cfg.Pexels)
	pollinationsClient := client.NewPollinationsClient(&cfg.Thumbnail)

	// Initialize R2 client (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, keeping local artifact paths")
	}

	// Initialize encoder
	ffmpeg := encoder.NewFFmpeg(&cfg.Encoder)

	// Task registry: Redis when available, in-memory fallback for dev
	var reg registry.Registry
	if redisUp {
		reg = registry.NewRedisRegistry(redisClient)
	} else {
		log.Println("Warning: using in-memory task registry, tasks do not survive restarts")
		reg = registry.NewMemoryRegistry()
	}

	// Pipeline stages in execution order
	styleCfg := model.StyleConfig{
		Style:  model.ThumbnailStyle(cfg.Thumbnail.Style),
		Width:  cfg.Thumbnail.Width,
		Height: cfg.Thumbnail.Height,
	}
	executors := []stage.Executor{
		stage.NewScriptExecutor(groqClient, 0),
		stage.NewSpeechExecutor(ttsClient, ffmpeg, cfg.Pipeline.ChunkSize, 0),
		stage.NewVisualExecutor(pexelsClient, 0, 0),
		stage.NewRenderExecutor(ffmpeg, storage),
		stage.NewThumbnailExecutor(pollinationsClient, storage, styleCfg, 0),
	}

	backoffBase := time.Duration(cfg.Pipeline.BackoffBaseMS) * time.Millisecond
	orchestrator := pipeline.NewOrchestrator(reg, executors, hub, cfg.Pipeline.MaxAttempts, backoffBase)
	pipelineWorker := pipeline.NewWorker(orchestrator)

	// Initialize services and handlers
	productionService := service.NewProductionService(reg, asynqClient)
	productionHandler := handler.NewProductionHandler(productionService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":       groqClient.IsConfigured(),
				"tts":       ttsClient.IsConfigured(),
				"pexels":    pexelsClient.IsConfigured(),
				"thumbnail": pollinationsClient.IsConfigured(),
				"r2":        storage != nil,
				"encoder":   ffmpeg.IsConfigured(),
				"redis":     redisUp,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	tasks := api.Group("/tasks")
	tasks.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), productionHandler.Submit)
	tasks.Get("/", productionHandler.List)
	tasks.Get("/stats", productionHandler.Stats)
	tasks.Get("/:taskId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), productionHandler.Status)
	tasks.Get("/:taskId/result", productionHandler.Result)
	tasks.Post("/:taskId/cancel", productionHandler.Cancel)
	tasks.Post("/:taskId/retry", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), productionHandler.Retry)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("taskId")
		hub.HandleConnection(c, taskID)
	}))

	// Stale-pending reaper: re-dispatches tasks whose queue message was lost
	reaper := cron.New()
	stalePending := time.Duration(cfg.Pipeline.StalePendingMin) * time.Minute
	_, err = reaper.AddFunc(cfg.Pipeline.ReaperInterval, func() {
		n, err := productionService.ReapStalePending(context.Background(), stalePending)
		if err != nil {
			log.Printf("Reaper error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("Reaper re-enqueued %d stale pending tasks", n)
		}
	})
	if err != nil {
		log.Printf("Warning: reaper not scheduled: %v", err)
	} else {
		reaper.Start()
		defer reaper.Stop()
	}

	// Start Asynq worker server
	go startWorkerServer(cfg, pipelineWorker)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, pipelineWorker *pipeline.Worker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Pipeline.Workers,
			Queues: map[string]int{
				pipeline.QueueProduce: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(pipeline.TaskTypeProduce, pipelineWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
