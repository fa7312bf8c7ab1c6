package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"punchcard-go/internal/assets"
	"punchcard-go/internal/handlers"
	"punchcard-go/internal/notify"
	"punchcard-go/internal/store"
	"punchcard-go/internal/wallet"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	// Redis Configuration (realtime card events)
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	redisStore := store.NewRedisStore(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// PostgreSQL Configuration
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pgStore, err := store.NewPostgresStore(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	ctx := context.Background()
	if err := pgStore.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	h := handlers.NewHandler(pgStore, pgStore, pgStore, pgStore, redisStore)

	// Public URLs
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	cardBaseURL := baseURL + "/cards"

	// Organization logo assets (S3-compatible bucket); optional
	var logos wallet.LogoSource
	if bucket := os.Getenv("LOGO_BUCKET"); bucket != "" {
		logos = &assets.LogoStore{
			Bucket:    bucket,
			Region:    os.Getenv("LOGO_S3_REGION"),
			Endpoint:  os.Getenv("LOGO_S3_ENDPOINT"),
			AccessKey: os.Getenv("LOGO_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("LOGO_S3_SECRET_KEY"),
		}
	}

	// Apple Wallet
	passTypeID := os.Getenv("APPLE_PASS_TYPE_ID")
	var appleNotifier wallet.AppleNotifier
	if passTypeID != "" {
		builder := wallet.NewApplePassBuilder(wallet.PassConfig{
			PassTypeID:    passTypeID,
			TeamID:        os.Getenv("APPLE_TEAM_ID"),
			WebServiceURL: baseURL + "/v1",
			CardBaseURL:   cardBaseURL,
		}, wallet.FileCredentials(
			os.Getenv("APPLE_PASS_CERT"),
			os.Getenv("APPLE_PASS_KEY"),
			os.Getenv("APPLE_WWDR_CERT"),
		), pgStore, pgStore, logos)
		h.Builder = builder

		if keyPath := os.Getenv("APNS_KEY_PATH"); keyPath != "" {
			notifier, err := wallet.NewAPNsNotifier(
				keyPath,
				os.Getenv("APNS_KEY_ID"),
				os.Getenv("APPLE_TEAM_ID"),
				os.Getenv("APNS_PRODUCTION") == "true",
				pgStore,
			)
			if err != nil {
				log.Printf("APNs disabled: %v", err)
			} else {
				appleNotifier = notifier
			}
		} else {
			log.Println("APNS_KEY_PATH not set, Apple pass pushes disabled")
		}
	} else {
		log.Println("APPLE_PASS_TYPE_ID not set, Apple Wallet disabled")
	}

	// Google Wallet
	var googleSync *wallet.GoogleSync
	if issuerID := os.Getenv("GOOGLE_ISSUER_ID"); issuerID != "" {
		key, err := wallet.LoadGoogleKey(os.Getenv("GOOGLE_SA_KEY_PATH"))
		if err != nil {
			log.Printf("Google Wallet disabled: %v", err)
		} else {
			googleSync = wallet.NewGoogleSync(wallet.GoogleConfig{
				IssuerID:            issuerID,
				ServiceAccountEmail: os.Getenv("GOOGLE_SA_EMAIL"),
				PrivateKey:          key,
				Origins:             []string{baseURL},
				CardBaseURL:         cardBaseURL,
			}, pgStore)
			h.Google = googleSync
		}
	} else {
		log.Println("GOOGLE_ISSUER_ID not set, Google Wallet disabled")
	}

	// Web push (VAPID keys from env, generated on first boot)
	vapidPrivateKey := os.Getenv("VAPID_PRIVATE_KEY")
	vapidPublicKey := os.Getenv("VAPID_PUBLIC_KEY")
	if vapidPrivateKey == "" || vapidPublicKey == "" {
		log.Println("VAPID keys not found in environment. Generating new keys...")
		privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			log.Fatal("Failed to generate VAPID keys:", err)
		}
		vapidPrivateKey = privateKey
		vapidPublicKey = publicKey
		log.Printf("Generated VAPID Keys:\nVAPID_PRIVATE_KEY=%s\nVAPID_PUBLIC_KEY=%s\n(Add these to your .env file to persist them)", privateKey, publicKey)
	}
	subscriber := os.Getenv("VAPID_SUBSCRIBER")
	if subscriber == "" {
		subscriber = "mailto:admin@example.com"
	}
	webPush := notify.NewSender(pgStore, vapidPublicKey, vapidPrivateKey, subscriber)
	h.WebPush = webPush

	// Update orchestrator: Apple, Google and web-push paths run
	// independently; a nil path is a disabled platform.
	var googleUpdater wallet.GoogleUpdater
	if googleSync != nil {
		googleUpdater = googleSync
	}
	h.Orchestrator = wallet.NewOrchestrator(pgStore, pgStore, appleNotifier, googleUpdater, webPush)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Serve static files (PWA assets, service worker)
	fs := http.FileServer(http.Dir("web/static"))
	mux.Handle("/static/", http.StripPrefix("/static/", fs))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("Listening on :" + port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}
