package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glowcheck.app/ingredient-assistant/internal/api"
	"glowcheck.app/ingredient-assistant/internal/auth"
	"glowcheck.app/ingredient-assistant/internal/config"
	"glowcheck.app/ingredient-assistant/internal/core"
	"glowcheck.app/ingredient-assistant/internal/store"
	"glowcheck.app/ingredient-assistant/internal/tools"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Command line flags
	ingestDataFlag := flag.Bool("ingest", false, "Run ingredient index ingestion from ingredients.md and exit")
	mintTokenFlag := flag.String("mint-token", "", "Mint a bearer token for the given subject and exit (requires AUTH_JWT_SECRET)")
	flag.Parse()

	// Handle token minting if flag is set
	if *mintTokenFlag != "" {
		if config.AppConfig.AuthJWTSecret == "" {
			log.Fatal("AUTH_JWT_SECRET must be set to mint tokens")
		}
		token, err := auth.GenerateJWT(*mintTokenFlag)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// Initialize the ingredient index store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Handle index ingestion if flag is set
	if *ingestDataFlag {
		log.Println("Starting ingredient index ingestion...")
		numIngested, err := dbStore.IngestFromFile("ingredients.md", func(text string) ([]float32, error) {
			return llmService.GetEmbedding(context.Background(), text)
		})
		if err != nil {
			log.Fatalf("Index ingestion failed: %v", err)
		}
		log.Printf("Ingestion complete. Ingested %d chunks. Exiting.", numIngested)
		os.Exit(0)
	}

	// Assemble the tool set for the completion loop
	chunks, err := dbStore.GetAllChunks()
	if err != nil {
		log.Fatalf("Failed to load ingredient index: %v", err)
	}
	toolSet := []core.Tool{
		tools.NewIngredientLookupTool(chunks, llmService),
	}
	if config.AppConfig.SearchAPIKey != "" && config.AppConfig.SearchEngineCX != "" {
		toolSet = append(toolSet, tools.NewSearchTool(config.AppConfig.SearchAPIKey, config.AppConfig.SearchEngineCX))
	} else {
		log.Println("SEARCH_API_KEY/SEARCH_ENGINE_CX not set; web search tool disabled")
	}

	// Initialize the request pipeline services
	gate := core.NewModerationGate(llmService, config.AppConfig.ModerationTimeout)
	chatService := core.NewChatService(
		llmService,
		toolSet,
		config.AppConfig.MaxToolRounds,
		config.AppConfig.RoundTimeout,
		config.AppConfig.ToolTimeout,
	)
	analysisService := core.NewAnalysisService(
		llmService,
		config.AppConfig.ExtractTimeout,
		config.AppConfig.ClassifyTimeout,
	)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(gate, chatService, analysisService)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Streamed turns and vision calls can run long
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
