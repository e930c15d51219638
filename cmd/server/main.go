package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/loreforge/loregql/internal/config"
	"github.com/loreforge/loregql/internal/db"
	"github.com/loreforge/loregql/internal/export"
	"github.com/loreforge/loregql/internal/ingestion"
	"github.com/loreforge/loregql/internal/merge"
	"github.com/loreforge/loregql/internal/middleware"
	"github.com/loreforge/loregql/internal/repository"
	"github.com/loreforge/loregql/internal/timeline"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConfig, srvConfig, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(dbConfig, srvConfig.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	branchRepo := repository.NewBranchRepository(conn.Pool)
	versionRepo := repository.NewVersionRepository(conn.Pool)

	timelineService := timeline.NewService(branchRepo, versionRepo)
	mergeService := merge.NewService(branchRepo, versionRepo, conn)
	exportService := export.NewService(mergeService, branchRepo)
	ingestionService := ingestion.NewService(timelineService)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   srvConfig.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(middleware.ActorMiddleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/branches", wrap(timeline.NewBranchHTTPHandler(timelineService)))
	mux.Handle("/api/branches/", wrap(timeline.NewBranchHTTPHandler(timelineService)))
	mux.Handle("/api/entities", wrap(timeline.NewEntityHTTPHandler(timelineService)))
	mux.Handle("/api/entities/", wrap(timeline.NewEntityHTTPHandler(timelineService)))
	mux.Handle("/api/merge/", wrap(merge.NewHTTPHandler(mergeService)))
	mux.Handle("/api/reports/merge", wrap(export.NewHTTPHandler(exportService)))
	mux.Handle("/api/import", wrap(ingestion.NewHTTPHandler(ingestionService)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := conn.Pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         srvConfig.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on %s", srvConfig.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
