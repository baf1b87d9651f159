package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiborg-ai/boardsync/internal/api"
	"github.com/aiborg-ai/boardsync/internal/collab"
	"github.com/aiborg-ai/boardsync/internal/config"
	"github.com/aiborg-ai/boardsync/internal/database"
	"github.com/aiborg-ai/boardsync/internal/models"
	"github.com/aiborg-ai/boardsync/internal/queue"
	"github.com/aiborg-ai/boardsync/internal/repositories"
	"github.com/aiborg-ai/boardsync/internal/services"
	"github.com/aiborg-ai/boardsync/internal/syncer"
	"github.com/aiborg-ai/boardsync/internal/voting"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Repositories. Ballots are working state for in-flight casts, not
	// durable records; the cast_votes table is the record of truth.
	voteRepo := repositories.NewPostgresVoteRepository(postgresPool)
	ballotRepo := repositories.NewMemoryBallotRepository()
	proxyRepo := repositories.NewPostgresProxyRepository(postgresPool)

	// The queue redelivers into the engines built below it; the closure
	// breaks the construction cycle.
	var (
		votingEngine *voting.Engine
		syncEngine   *syncer.Engine
	)
	offlineQueue := queue.New(
		queue.NewRedisStore(redisClient, "server"),
		func(ctx context.Context, item models.QueueItem) error {
			switch item.Entity {
			case "cast_vote":
				return votingEngine.DeliverQueuedCast(ctx, item)
			case "store_state":
				return syncEngine.Broadcast(ctx, item.EntityID, item.Data, "")
			default:
				return fmt.Errorf("no delivery route for entity %q", item.Entity)
			}
		},
		queue.WithMaxItems(cfg.QueueMaxItems),
		queue.WithMaxRetries(cfg.QueueMaxRetries),
	)

	votingOpts := []voting.Option{
		voting.WithQuorumFraction(cfg.QuorumFraction),
		voting.WithOfflineQueue(offlineQueue),
	}
	if len(cfg.BallotKey) > 0 {
		cipher, err := voting.NewCipher(cfg.BallotKey)
		if err != nil {
			log.Fatalf("Failed to build ballot cipher: %v", err)
		}
		votingOpts = append(votingOpts, voting.WithCipher(cipher))
	}
	votingEngine = voting.NewEngine(voteRepo, ballotRepo, proxyRepo, votingOpts...)

	if err := offlineQueue.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore offline queue: %v", err)
	}

	// Sync coordinator over redis pub/sub.
	transport := syncer.NewRedisTransport(redisClient)
	syncEngine = syncer.NewEngine(transport, offlineQueue,
		syncer.WithDebounceWindow(cfg.DebounceWindow),
	)

	tokenService := services.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	presenceStore := collab.NewRedisPresenceStore(redisClient)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewServer(votingEngine, syncEngine, tokenService, presenceStore).Router(),
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		syncEngine.Close(shutdownCtx)
	}()

	log.Printf("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
