package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"realtycrm/internal/config"
	"realtycrm/internal/crm"
	"realtycrm/internal/database"
	"realtycrm/internal/handlers"
	"realtycrm/internal/logging"
	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
	"realtycrm/internal/settings"
	"realtycrm/pkg/auth"
)

// repositories groups the auxiliary document collections
type repositories struct {
	users        services.Repository[models.User]
	fields       services.Repository[models.CustomField]
	templates    services.Repository[models.WhatsAppTemplate]
	messages     services.Repository[models.WhatsAppMessage]
	campaigns    services.Repository[models.Campaign]
	calls        services.Repository[models.CallLog]
	interactions services.Repository[models.Interaction]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting RealtyCRM Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s)", cfg.Port, cfg.Environment)

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString() + uuid.NewString()
		log.Println("⚠️  JWT_SECRET not set, using a random secret (tokens won't survive a restart)")
	}
	jwtAuth, err := auth.NewJWTAuth(cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	if err != nil {
		log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
	}

	connManager := services.NewConnectionManager()
	var metrics *services.Metrics
	if cfg.MetricsEnabled {
		metrics = services.InitMetrics(connManager)
		connManager.SetMetrics(metrics)
	}

	healthHandler := handlers.NewHealthHandler(connManager)

	// Record stores and auxiliary collections: MongoDB when configured,
	// in-memory otherwise
	var stores []crm.RecordStore
	var repos repositories
	if cfg.MongoDBURI != "" {
		log.Println("🔗 Connecting to MongoDB...")
		mongoDB, err := database.NewMongoDB(cfg.MongoDBURI)
		if err != nil {
			log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
		}
		defer mongoDB.Close(context.Background())

		initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mongoDB.Initialize(initCtx); err != nil {
			log.Printf("⚠️ Failed to initialize MongoDB indexes: %v", err)
		}
		cancel()

		for _, kind := range crm.Kinds {
			st, err := services.NewMongoRecordStore(mongoDB, kind)
			if err != nil {
				log.Fatalf("❌ Failed to create %s store: %v", kind, err)
			}
			stores = append(stores, st)
		}
		repos = repositories{
			users:        services.NewMongoRepository[models.User](mongoDB, database.CollectionUsers, "createdAt", 1),
			fields:       services.NewMongoRepository[models.CustomField](mongoDB, database.CollectionCustomFields, "createdAt", 1),
			templates:    services.NewMongoRepository[models.WhatsAppTemplate](mongoDB, database.CollectionWhatsAppTemplates, "name", 1),
			messages:     services.NewMongoRepository[models.WhatsAppMessage](mongoDB, database.CollectionWhatsAppMessages, "createdAt", -1),
			campaigns:    services.NewMongoRepository[models.Campaign](mongoDB, database.CollectionCampaigns, "createdAt", -1),
			calls:        services.NewMongoRepository[models.CallLog](mongoDB, database.CollectionCallLogs, "calledAt", -1),
			interactions: services.NewMongoRepository[models.Interaction](mongoDB, database.CollectionInteractions, "occurredAt", -1),
		}
		healthHandler.AddDependency("mongodb", mongoDB)
		log.Println("✅ MongoDB connected successfully")
	} else {
		if cfg.IsProduction() {
			log.Fatal("❌ MONGODB_URI is required in production")
		}
		log.Println("⚠️ MONGODB_URI not set - using in-memory stores (data is lost on restart)")
		for _, kind := range crm.Kinds {
			st, err := crm.NewMemoryStore(kind)
			if err != nil {
				log.Fatalf("❌ Failed to create %s store: %v", kind, err)
			}
			stores = append(stores, st)
		}
		repos = repositories{
			users:        services.NewMemoryRepository[models.User](),
			fields:       services.NewMemoryRepository[models.CustomField](),
			templates:    services.NewMemoryRepository[models.WhatsAppTemplate](),
			messages:     services.NewMemoryRepository[models.WhatsAppMessage](),
			campaigns:    services.NewMemoryRepository[models.Campaign](),
			calls:        services.NewMemoryRepository[models.CallLog](),
			interactions: services.NewMemoryRepository[models.Interaction](),
		}
	}

	// Stage history database (MySQL or SQLite)
	historyDB, err := database.New(cfg.HistoryDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to history database: %v", err)
	}
	defer historyDB.Close()
	if err := historyDB.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize history database: %v", err)
	}
	healthHandler.AddDependency("history", handlers.PingFunc(historyDB.PingContext))

	pipeline, err := services.NewPipelineService(cfg.ListCacheTTL, stores...)
	if err != nil {
		log.Fatalf("❌ Failed to create pipeline service: %v", err)
	}
	pipeline.SetHistory(services.NewHistoryService(historyDB))
	pipeline.SetMetrics(metrics)
	pipeline.AddNotifier(connManager)

	if cfg.PipelineConfigFile != "" {
		if err := applyPipelineConfig(cfg.PipelineConfigFile, pipeline); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	// Redis pub/sub keeps snapshot caches and feeds of other instances in step
	var pubsubService *services.PubSubService
	if cfg.RedisURL != "" {
		redisService, err := services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, running single-instance: %v", err)
		} else {
			defer redisService.Close()
			pubsubService = services.NewPubSubService(redisService, uuid.NewString())
			pubsubService.OnRemoteEvent(func(ev services.RecordEvent) {
				pipeline.Invalidate(ev.Kind)
				connManager.Notify(context.Background(), ev)
			})
			if err := pubsubService.Start(); err != nil {
				log.Printf("⚠️ Failed to start PubSub: %v", err)
				pubsubService = nil
			} else {
				pipeline.AddNotifier(pubsubService)
			}
			healthHandler.AddDependency("redis", redisService)
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - cross-instance events disabled")
	}

	settingsStore, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load settings: %v", err)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := settingsStore.Watch(watchCtx); err != nil {
		log.Printf("⚠️ Settings hot reload disabled: %v", err)
	}

	// Services
	userService := services.NewUserService(repos.users, jwtAuth)
	fieldService := services.NewCustomFieldService(repos.fields)
	activityService := services.NewActivityService(repos.calls, repos.interactions, pipeline)
	whatsappService := services.NewWhatsAppService(repos.templates, repos.messages, pipeline, activityService, settingsStore)
	campaignService := services.NewCampaignService(repos.campaigns, pipeline, whatsappService)
	spreadsheetService := services.NewSpreadsheetService(pipeline, settingsStore)

	app := fiber.New(fiber.Config{
		AppName:      "RealtyCRM v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    20 * 1024 * 1024, // spreadsheet imports
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	if cfg.MetricsEnabled {
		prometheus := fiberprometheus.New("realtycrm")
		prometheus.RegisterAt(app, "/metrics")
		app.Use(prometheus.Middleware)
		log.Println("📊 Prometheus metrics endpoint enabled at /metrics")
	}

	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.NewRateLimitConfig(cfg.GlobalAPIRateLimit, cfg.LoginRatePerMinute, !cfg.IsProduction())
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	log.Printf("🛡️  [RATE-LIMIT] Global=%d/min, Login=%d/min per account, WS=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.LoginPerMinute, rateLimitConfig.WebSocketMax)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService)
	fieldHandler := handlers.NewCustomFieldHandler(fieldService)
	whatsappHandler := handlers.NewWhatsAppHandler(whatsappService)
	campaignHandler := handlers.NewCampaignHandler(campaignService)
	activityHandler := handlers.NewActivityHandler(activityService)
	settingsHandler := handlers.NewSettingsHandler(settingsStore)
	feedHandler := handlers.NewPipelineFeedHandler(connManager, metrics)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")

	// Public auth routes
	loginLimiter := middleware.NewLoginLimiter(rateLimitConfig.LoginPerMinute)
	api.Post("/login", loginLimiter.Handler(), authHandler.Login)
	api.Post("/register", middleware.OptionalAuthMiddleware(jwtAuth), authHandler.Register)
	api.Post("/refresh", authHandler.Refresh)

	protected := api.Group("", middleware.AuthMiddleware(jwtAuth))
	adminOnly := middleware.RequireRole(models.RoleAdmin)
	managers := middleware.RequireRole(models.RoleAdmin, models.RoleManager)

	protected.Get("/me", authHandler.Me)
	protected.Post("/logout", authHandler.Logout)
	protected.Get("/users", adminOnly, authHandler.ListUsers)
	protected.Put("/users/:id/active", adminOnly, authHandler.SetActive)

	// Leads, opportunities and site visits
	for _, kind := range crm.Kinds {
		h := handlers.NewRecordHandler(kind, pipeline, fieldService, spreadsheetService, cfg.DefaultPageSize, cfg.MaxPageSize)
		h.Routes(protected.Group("/"+kind.Plural()), managers)
	}

	protected.Get("/custom-fields", fieldHandler.List)
	protected.Get("/custom-fields/:id", fieldHandler.Get)
	protected.Post("/custom-fields", adminOnly, fieldHandler.Create)
	protected.Put("/custom-fields/:id", adminOnly, fieldHandler.Update)
	protected.Delete("/custom-fields/:id", adminOnly, fieldHandler.Delete)

	protected.Get("/whatsapp/templates", whatsappHandler.ListTemplates)
	protected.Get("/whatsapp/templates/:id", whatsappHandler.GetTemplate)
	protected.Post("/whatsapp/templates", managers, whatsappHandler.CreateTemplate)
	protected.Put("/whatsapp/templates/:id", managers, whatsappHandler.UpdateTemplate)
	protected.Delete("/whatsapp/templates/:id", managers, whatsappHandler.DeleteTemplate)
	protected.Post("/whatsapp/templates/:id/preview", whatsappHandler.Preview)
	protected.Get("/whatsapp/messages", whatsappHandler.ListMessages)
	protected.Post("/whatsapp/messages", whatsappHandler.SendMessage)

	protected.Get("/campaigns", campaignHandler.List)
	protected.Get("/campaigns/:id", campaignHandler.Get)
	protected.Post("/campaigns", managers, campaignHandler.Create)
	protected.Put("/campaigns/:id", managers, campaignHandler.Update)
	protected.Delete("/campaigns/:id", managers, campaignHandler.Delete)
	protected.Get("/campaigns/:id/audience", campaignHandler.Audience)
	protected.Post("/campaigns/:id/launch", managers, campaignHandler.Launch)

	protected.Get("/call-logs", activityHandler.ListCalls)
	protected.Post("/call-logs", activityHandler.LogCall)
	protected.Get("/interactions", activityHandler.ListInteractions)
	protected.Post("/interactions", activityHandler.AddInteraction)

	protected.Get("/settings", settingsHandler.Get)
	protected.Put("/settings", managers, settingsHandler.Update)

	// Pipeline event feed
	wsConfig := websocket.Config{Origins: strings.Split(cfg.AllowedOrigins, ",")}
	app.Get("/ws/pipeline",
		middleware.WebSocketRateLimiter(rateLimitConfig),
		middleware.AuthMiddleware(jwtAuth),
		feedHandler.Upgrade,
		websocket.New(feedHandler.Handle, wsConfig),
	)

	log.Printf("✅ Server ready on port %s", cfg.Port)
	log.Printf("🔌 Pipeline feed: ws://localhost:%s/ws/pipeline", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")
		stopWatch()

		if pubsubService != nil {
			if err := pubsubService.Stop(); err != nil {
				log.Printf("⚠️ Error stopping PubSub: %v", err)
			}
		}

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// applyPipelineConfig loads transition tables and default filters from YAML
func applyPipelineConfig(path string, pipeline *services.PipelineService) error {
	pipelinesConfig, err := config.LoadPipelines(path)
	if err != nil {
		return err
	}
	resolved, err := pipelinesConfig.Resolve()
	if err != nil {
		return fmt.Errorf("invalid pipeline config %s: %w", path, err)
	}
	for kind, p := range resolved {
		pipeline.SetMachine(p.Machine)
		pipeline.SetSchema(p.Schema)
		log.Printf("📋 [PIPELINE] %s configured from %s (restricted transitions: %v)", kind, path, p.Machine.Restricted())
	}
	return nil
}
