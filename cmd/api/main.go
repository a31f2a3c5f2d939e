package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mirrorchat/internal/auth"
	"mirrorchat/internal/chat"
	"mirrorchat/internal/db"
	"mirrorchat/internal/directory"
	"mirrorchat/internal/middleware"
	"mirrorchat/internal/store"
)

func main() {
	// Read configuration from environment (.env honored for local runs)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI must be set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	jwtKeysEnv := os.Getenv("JWT_KEYS") // optional: format kid:secret,kid2:secret2
	jwtActiveKid := os.Getenv("JWT_ACTIVE_KID")
	if jwtKeysEnv == "" && jwtSecret == "" {
		log.Fatal("either JWT_SECRET or JWT_KEYS must be set")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()

	// Initialize database
	dbClient, err := db.New(ctx, mongoURI)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	// Initialize auth manager (token valid for 24 hours). If JWT_KEYS is
	// supplied we parse the keyset so token rotation is possible; otherwise
	// fall back to the single JWT_SECRET value.
	var jwtMgr *auth.JWTManager
	if jwtKeysEnv != "" {
		keyMap := map[string]string{}
		for _, p := range strings.Split(jwtKeysEnv, ",") {
			if p == "" {
				continue
			}
			parts := strings.SplitN(p, ":", 2)
			if len(parts) != 2 {
				log.Fatalf("invalid JWT_KEYS entry: %s", p)
			}
			keyMap[parts[0]] = parts[1]
		}
		jwtMgr = auth.NewJWTManagerFromKeys(keyMap, jwtActiveKid, 24*time.Hour)
	} else {
		jwtMgr = auth.NewJWTManager(jwtSecret, 24*time.Hour)
	}

	// Wire the engine: one explicitly constructed store handle, injected into
	// each component
	docs := store.NewMongo(dbClient.Database())
	dir := directory.NewMongo(dbClient.UsersCollection())
	logs := chat.NewConversationLog(docs)
	recent := chat.NewRecentIndex(docs)
	coord := chat.NewCoordinator(logs, recent, dir)

	// Rate limiter for the register/login endpoints.
	// RATE_LIMIT_RPM controls requests per minute for these sensitive endpoints.
	rateRPM := 10
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateRPM = n
		}
	}
	limiterStore := middleware.NewLimiterStore(rateRPM, 3, 1*time.Minute)
	defer limiterStore.Stop()

	srv := newServer(dir, logs, recent, coord, jwtMgr)
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: srv.routes(limiterStore),
	}

	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
