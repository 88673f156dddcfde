package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agentdeck/internal/config"
	"agentdeck/internal/crypto"
	"agentdeck/internal/database"
	"agentdeck/internal/handlers"
	"agentdeck/internal/jobs"
	"agentdeck/internal/llm"
	"agentdeck/internal/logging"
	"agentdeck/internal/middleware"
	"agentdeck/internal/preflight"
	"agentdeck/internal/services"
	"agentdeck/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting AgentDeck Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// appCtx parents everything that must outlive a single request:
	// discovery probing, pub/sub consumption, and in-flight chat turns.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Device store (SQLite by default, MySQL via DATABASE_URL)
	if cfg.DatabaseURL == "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			log.Fatalf("❌ Failed to create data directory %s: %v", cfg.DataDir, err)
		}
	}
	db, err := database.New(cfg.SQLPath())
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	if preflight.HasFailures(preflight.NewChecker(cfg, db).RunAll()) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	// MongoDB (optional - enables accounts and the per-user workspace scope)
	var mongoDB *database.MongoDB
	var encryptionService *crypto.EncryptionService
	var credentialService *services.CredentialService
	var userService *services.UserService

	if cfg.MongoURL != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err = database.NewMongoDB(cfg.MongoURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to MongoDB: %v (accounts disabled)", err)
			mongoDB = nil
		} else {
			defer mongoDB.Close(context.Background())
			if err := mongoDB.Initialize(appCtx); err != nil {
				log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
			}
			log.Println("✅ MongoDB connected successfully")

			if cfg.EncryptionMasterKey != "" {
				encryptionService, err = crypto.NewEncryptionService(cfg.EncryptionMasterKey)
				if err != nil {
					log.Fatalf("❌ Failed to initialize encryption: %v", err)
				}
				log.Println("✅ Encryption service initialized")
			} else if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
				log.Fatal("❌ ENCRYPTION_MASTER_KEY is required in production when MongoDB is enabled. Generate with: openssl rand -hex 32")
			} else {
				log.Println("⚠️ ENCRYPTION_MASTER_KEY not set - account storage disabled (development mode only)")
			}

			if encryptionService != nil {
				credentialService = services.NewCredentialService(mongoDB, encryptionService)
				userService = services.NewUserService(mongoDB)
				log.Println("✅ User service initialized")
			}
		}
	}

	// Redis (optional - refresh-token revocation, rate limits, pub/sub)
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable: %v (running single-replica)", err)
			redisService = nil
		} else {
			defer redisService.Close()
		}
	}

	// Workspace: device scope always, account scope when accounts are on
	deviceStore := services.NewDeviceStore(db)
	var accountFactory services.StoreFactory
	if mongoDB != nil && credentialService != nil {
		accountFactory = func(userID string) services.AgentStore {
			return services.NewAccountStore(mongoDB, credentialService, userID)
		}
	}
	workspace := services.NewWorkspaceService(deviceStore, accountFactory)
	if err := workspace.OnAuthChange(appCtx, ""); err != nil {
		log.Fatalf("❌ Failed to load device workspace: %v", err)
	}

	// Provider catalog (hot-reloaded) and the vendor dispatch table
	configService := services.NewConfigService(cfg.ProvidersFile)
	if err := configService.Load(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	dispatcher := llm.NewDispatcher(configService.Endpoints())
	configService.OnReload(func() {
		dispatcher.ApplyEndpoints(configService.Endpoints())
	})

	// Core services
	providerService := services.NewProviderService(workspace, configService, dispatcher)
	discoveryService := services.NewDiscoveryService(providerService, cfg.DiscoveryEndpoint)
	configService.OnReload(func() {
		// A catalog edit can move the local runtime's base URL.
		go discoveryService.Probe(appCtx, "")
	})
	chatService := services.NewChatService(workspace, providerService, configService, dispatcher, cfg.ChatCacheTTL)
	agentService := services.NewAgentService(workspace, chatService)
	canvasService := services.NewCanvasService(workspace, chatService)
	settingsService := services.NewSettingsService(workspace)

	connManager := services.NewConnectionManager()
	services.InitMetrics(connManager)

	// Pub/sub keeps sibling replicas' workspace caches coherent
	var pubsubService *services.PubSubService
	if redisService != nil {
		pubsubService = services.NewPubSubService(redisService, uuid.New().String())
		pubsubService.Subscribe("workspace:*:events", func(channel string, event *services.WorkspaceEvent) {
			if event.Type != services.EventConfigInvalidate || event.UserID != workspace.UserID() {
				return
			}
			if err := workspace.OnAuthChange(appCtx, event.UserID); err != nil {
				log.Printf("⚠️ [PUBSUB] Workspace reload failed: %v", err)
				return
			}
			chatService.InvalidateAll()
		})
		pubsubService.Subscribe("broadcast:events", func(channel string, event *services.WorkspaceEvent) {
			if event.Type != services.EventCatalogReload {
				return
			}
			if err := configService.Reload(); err != nil {
				log.Printf("⚠️ [PUBSUB] Catalog reload failed: %v", err)
			}
		})
		if err := pubsubService.Start(); err != nil {
			log.Printf("⚠️ Failed to start pub/sub: %v (running single-replica)", err)
			pubsubService = nil
		}
	}

	// JWT auth. Tokens only work when accounts do, so the secret alone is
	// not enough; without Mongo the server stays in guest mode.
	var jwtAuth *auth.LocalJWTAuth
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewLocalJWTAuth(cfg.JWTSecret, cfg.AccessTokenExpiry, cfg.RefreshTokenExpiry)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
	} else if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
		log.Fatal("❌ JWT_SECRET is required in production. Generate with: openssl rand -hex 64")
	} else {
		log.Println("⚠️  JWT_SECRET not set - authentication disabled (development mode)")
	}
	authEnabled := jwtAuth != nil && userService != nil
	if jwtAuth != nil && userService == nil {
		log.Println("⚠️  JWT_SECRET set but accounts are unavailable - authentication disabled")
		jwtAuth = nil
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:        "AgentDeck v1.0",
		ReadTimeout:    900 * time.Second, // local models (Ollama) can take 5+ min to cold start
		WriteTimeout:   900 * time.Second, // streaming responses from large local models
		IdleTimeout:    900 * time.Second,
		BodyLimit:      50 * 1024 * 1024, // chat messages can carry base64 image attachments
		ReadBufferSize: 16384,            // privacy browsers send oversized headers
		UnescapePath:   true,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("agentdeck")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Auth=%d/min, Chat=%d/min, WS=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.AuthMax,
		rateLimitConfig.ChatMax,
		rateLimitConfig.WebSocketMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard
	// origins. In all-in-one mode (ALLOWED_ORIGINS=*) the frontend is served
	// from the same origin and credentials aren't needed.
	allowCredentials := allowedOrigins != "*"

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", allowedOrigins)

	// Global API rate limiter, then auth resolution and workspace scoping
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	app.Use("/api", middleware.OptionalAuth(jwtAuth))
	app.Use("/api", middleware.ScopeSync(workspace, chatService))

	// Handlers
	healthHandler := handlers.NewHealthHandler(connManager, discoveryService)
	providerHandler := handlers.NewProviderHandler(providerService, discoveryService, pubsubService)
	agentHandler := handlers.NewAgentHandler(agentService)
	instanceHandler := handlers.NewInstanceHandler(agentService)
	canvasHandler := handlers.NewCanvasHandler(canvasService)
	chatHandler := handlers.NewChatHandler(chatService)
	preferencesHandler := handlers.NewPreferencesHandler(settingsService)
	wsHandler := handlers.NewWebSocketHandler(appCtx, connManager, chatService, workspace, jwtAuth)

	// Routes
	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	if authEnabled {
		authHandler := handlers.NewLocalAuthHandler(jwtAuth, userService, workspace, chatService, redisService)
		authLimiter := middleware.AuthRateLimiter(rateLimitConfig)
		authRoutes := api.Group("/auth")
		authRoutes.Post("/register", authLimiter, authHandler.Register)
		authRoutes.Post("/login", authLimiter, authHandler.Login)
		authRoutes.Post("/refresh", authHandler.RefreshToken)
		authRoutes.Post("/logout", authHandler.Logout)
		log.Println("✅ Local authentication enabled")
	}

	providers := api.Group("/providers")
	providers.Get("/", providerHandler.List)
	providers.Get("/:id", providerHandler.Get)
	providers.Put("/:id", providerHandler.Update)
	providers.Delete("/:id", providerHandler.Delete)
	providers.Post("/:id/probe", providerHandler.Probe)
	providers.Get("/:id/models", providerHandler.Models)

	agents := api.Group("/agents")
	agents.Post("/", agentHandler.Create)
	agents.Get("/", agentHandler.List)
	agents.Get("/:id", agentHandler.Get)
	agents.Put("/:id", agentHandler.Update)
	agents.Get("/:id/impact", agentHandler.Impact)
	agents.Delete("/:id", agentHandler.Delete)

	instances := api.Group("/instances")
	instances.Post("/", instanceHandler.Create)
	instances.Get("/", instanceHandler.List)
	instances.Get("/:id", instanceHandler.Get)
	instances.Put("/:id/config", instanceHandler.UpdateConfig)
	instances.Put("/:id/name", instanceHandler.Rename)
	instances.Delete("/:id", instanceHandler.Delete)

	canvas := api.Group("/canvas")
	canvas.Get("/", canvasHandler.Get)
	canvas.Post("/nodes", canvasHandler.AttachNode)
	canvas.Put("/nodes/:id/position", canvasHandler.MoveNode)
	canvas.Delete("/nodes/:id", canvasHandler.DetachNode)
	canvas.Post("/links", canvasHandler.CreateLink)
	canvas.Delete("/links/:id", canvasHandler.DeleteLink)

	api.Post("/chat/completions", middleware.ChatRateLimiter(rateLimitConfig), chatHandler.Complete)

	settings := api.Group("/settings")
	settings.Get("/preferences", preferencesHandler.Get)
	settings.Put("/preferences", preferencesHandler.Update)

	// WebSocket route
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	wsConfig := websocket.Config{
		Origins: strings.Split(allowedOrigins, ","),
	}

	app.Use("/ws/chat", middleware.WebSocketRateLimiter(rateLimitConfig))
	app.Use("/ws/chat", middleware.OptionalAuth(jwtAuth))
	app.Get("/ws/chat", websocket.New(wsHandler.Handle, wsConfig))

	// Catalog file watcher (hot-reload on edit)
	go startCatalogWatcher(appCtx, cfg.ProvidersFile, configService, pubsubService)

	// Local-inference discovery loop
	go discoveryService.Start(appCtx, cfg.DiscoveryInterval)

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	registerJobs(scheduler, cfg, agentService, workspace, providerService, discoveryService)
	scheduler.Start()

	// Serve frontend static files when running in all-in-one Docker mode
	if os.Getenv("SERVE_FRONTEND") == "true" {
		frontendDir := os.Getenv("FRONTEND_DIR")
		if frontendDir == "" {
			frontendDir = "/app/public"
		}
		if _, err := os.Stat(frontendDir); err == nil {
			app.Static("/", frontendDir, fiber.Static{
				Compress:      true,
				CacheDuration: 24 * time.Hour,
			})
			// SPA fallback: serve index.html for frontend routes only
			app.Get("/*", func(c *fiber.Ctx) error {
				path := c.Path()
				if strings.HasPrefix(path, "/api/") ||
					strings.HasPrefix(path, "/ws/") ||
					path == "/health" ||
					path == "/metrics" {
					return c.Next()
				}
				return c.SendFile(filepath.Join(frontendDir, "index.html"))
			})
			log.Printf("🌐 Frontend serving from %s", frontendDir)
		} else {
			log.Printf("⚠️  SERVE_FRONTEND=true but directory %s not found", frontendDir)
		}
	}

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔗 WebSocket endpoint: ws://localhost:%s/ws/chat", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping job scheduler: %v", err)
		}

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping pub/sub: %v", err)
			}
		}

		// Cancel in-flight turns, discovery, and the catalog watcher
		appCancel()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// registerJobs wires the background jobs onto their configured schedules.
func registerJobs(
	scheduler *jobs.Scheduler,
	cfg *config.Config,
	agentService *services.AgentService,
	workspace *services.WorkspaceService,
	providerService *services.ProviderService,
	discoveryService *services.DiscoveryService,
) {
	orphanJob := jobs.NewOrphanCleanupJob(agentService, workspace)
	if err := scheduler.Register(orphanJob, cfg.OrphanCleanupCron); err != nil {
		log.Printf("⚠️ %v", err)
	}

	healthJob := jobs.NewProviderHealthJob(providerService, discoveryService)
	if err := scheduler.Register(healthJob, cfg.ProviderHealthCron); err != nil {
		log.Printf("⚠️ %v", err)
	}

	if cfg.RetentionMaxMessages > 0 || cfg.ErrorRetentionDays > 0 {
		retentionJob := jobs.NewRetentionCleanupJob(workspace,
			cfg.RetentionMaxMessages,
			time.Duration(cfg.ErrorRetentionDays)*24*time.Hour)
		if err := scheduler.Register(retentionJob, cfg.RetentionCron); err != nil {
			log.Printf("⚠️ %v", err)
		}
	}
}

// startCatalogWatcher watches the providers file and hot-reloads the
// catalog on change. Sibling replicas get a broadcast so they re-read
// their own copies.
func startCatalogWatcher(ctx context.Context, filePath string, configService *services.ConfigService, pubsubService *services.PubSubService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		return
	}

	// Watch the directory containing the file (more reliable than watching
	// the file directly; editors replace files on save)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading catalog...", filePath)

					if err := configService.Reload(); err != nil {
						log.Printf("❌ Failed to reload catalog: %v", err)
						return
					}
					log.Printf("✅ Catalog reloaded from %s", filePath)

					if pubsubService != nil {
						if err := pubsubService.PublishCatalogReload(ctx); err != nil {
							log.Printf("⚠️ Failed to broadcast catalog reload: %v", err)
						}
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
