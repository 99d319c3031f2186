package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pet-companion-system/handlers"
	"pet-companion-system/middleware"
	"pet-companion-system/models"
	"pet-companion-system/services"
	"pet-companion-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Name",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.KVEntry{},
		&models.UserMirror{},
		&models.TokenWallet{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	kv := services.NewGormKVStore(db)
	ledger := services.NewLedgerService(db)
	vitality := services.NewVitalityService(kv)
	pets := services.NewPetService(kv, vitality, ledger)

	// --- CONFIGURE the remote document store ---
	// Without DOCUMENT_SERVICE_URL the service runs on an in-process store:
	// single-instance dev mode, no cross-client sharing.
	var docs services.DocumentService
	var exchanger services.TokenExchanger
	var bridge *services.SyncBridge

	docServiceURL := os.Getenv("DOCUMENT_SERVICE_URL")
	if docServiceURL != "" {
		authServiceURL := os.Getenv("AUTH_SERVICE_URL")
		if authServiceURL == "" {
			log.Fatal("AUTH_SERVICE_URL environment variable not set")
		}
		authServiceToken := os.Getenv("AUTH_SERVICE_TOKEN")
		if authServiceToken == "" {
			log.Fatal("AUTH_SERVICE_TOKEN environment variable not set")
		}
		signingSecret := os.Getenv("AUTH_SIGNING_SECRET")
		if signingSecret == "" {
			log.Fatal("AUTH_SIGNING_SECRET environment variable not set")
		}
		docServiceToken := os.Getenv("DOCUMENT_SERVICE_TOKEN")
		if docServiceToken == "" {
			log.Fatal("DOCUMENT_SERVICE_TOKEN environment variable not set")
		}

		exchanger = services.NewAuthServiceClient(authServiceURL, authServiceToken, []byte(signingSecret))

		// The client borrows the bridge's bounded-retry credential cache; the
		// closure resolves after the bridge exists below.
		docs = services.NewDocumentClient(docServiceURL, docServiceToken, func(ctx context.Context) (string, error) {
			return bridge.EnsureAuthenticated(ctx)
		})
		log.Printf("✅ Remote document store: %s", docServiceURL)
	} else {
		log.Println("⚠️  DOCUMENT_SERVICE_URL not set — using in-process document store (dev mode)")
		docs = services.NewMemoryDocumentService()
	}

	serviceAccount := os.Getenv("SERVICE_ACCOUNT_ID")
	if serviceAccount == "" {
		serviceAccount = "pet-companion-system"
	}
	bridge = services.NewSyncBridge(docs, exchanger, pets, kv, serviceAccount)
	pets.SetPusher(bridge)

	vitality.OnInactive(pets.HandleVitalityDepleted)
	if err := vitality.StartDecayScheduler(); err != nil {
		log.Fatal("failed to start decay scheduler:", err)
	}

	groups := services.NewGroupService(docs)
	leaderboard := services.NewLeaderboardService(docs, db, ledger, pets)
	directory := services.NewUserDirectory(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presenceWorker := workers.NewPresenceSyncWorker(db, docs)
	presenceWorker.Start(ctx)

	handlers.SetupPetRoutes(app, &handlers.PetHandler{
		Pets:     pets,
		Vitality: vitality,
		Ledger:   ledger,
		Bridge:   bridge,
	})
	handlers.SetupGroupRoutes(app, &handlers.GroupHandler{
		Groups:    groups,
		Directory: directory,
	})
	handlers.SetupLeaderboardRoutes(app, &handlers.LeaderboardHandler{
		Leaderboard: leaderboard,
		Ledger:      ledger,
		Bridge:      bridge,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "5100"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Vitality decay scheduler running")
	log.Println("✅ Presence Sync Worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	vitality.StopDecayScheduler()
	_ = app.Shutdown()
}
