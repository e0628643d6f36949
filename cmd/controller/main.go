package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/openhvx/controller/internal/auth"
	"github.com/openhvx/controller/internal/broker"
	"github.com/openhvx/controller/internal/config"
	"github.com/openhvx/controller/internal/console"
	"github.com/openhvx/controller/internal/dispatch"
	"github.com/openhvx/controller/internal/enrich"
	"github.com/openhvx/controller/internal/gateway"
	"github.com/openhvx/controller/internal/images"
	"github.com/openhvx/controller/internal/metrics"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/reconcile"
	"github.com/openhvx/controller/internal/store"
	"github.com/openhvx/controller/internal/sweeper"
	"github.com/openhvx/controller/internal/telemetry"
	"github.com/openhvx/controller/internal/view"

	_ "github.com/openhvx/controller/docs" // swagger docs
)

// @title OpenHVX Controller API
// @version 1.0
// @description Multi-tenant control plane for Hyper-V hosts.
// @description
// @description Dispatches tenant tasks to host agents over RabbitMQ, ingests agent
// @description telemetry (heartbeats and two-tier inventories) and reconciles task
// @description results into tenant resource ownership.

// @contact.name OpenHVX
// @contact.url https://github.com/openhvx

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

func main() {
	if err := initTracer(); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := models.ValidateActionTables(); err != nil {
		log.Fatalf("Inconsistent action tables: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close(context.Background())

	bk, err := connectBroker(cfg)
	if err != nil {
		log.Fatalf("Failed to connect broker: %v", err)
	}
	defer bk.Close()

	taskMetrics, err := metrics.NewTaskMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize task metrics: %v", err)
	}
	telemetryMetrics, err := metrics.NewTelemetryMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize telemetry metrics: %v", err)
	}

	catalog := images.NewCatalog(cfg.ImagesIndexPath, cfg.ImagesTTL)

	registry := enrich.NewRegistry()
	enrich.RegisterDefaults(registry, catalog)

	var tickets *console.TicketService
	if cfg.ConsoleEnabled {
		tickets, err = console.NewTicketService(st, cfg.JWTAgentSecret, cfg.JWTBrowserSecret, cfg.PublicWSBase, cfg.BrokerWSBase)
		if err != nil {
			log.Fatalf("Failed to initialize console tickets: %v", err)
		}
	} else {
		log.Printf(`{"level":"warn","message":"Console tunnels disabled: secrets or websocket bases not configured"}`)
	}

	dispatcher := dispatch.New(st, bk, registry, taskMetrics, cfg.AgentStaleAfter)
	reconciler := reconcile.New(st, taskMetrics)
	ingestor := telemetry.NewIngestor(st, telemetryMetrics, telemetry.ApplyMode(cfg.InventoryApplyMode))

	if err := bk.Consume(ctx, broker.HeartbeatQueue, ingestor.HandleHeartbeat); err != nil {
		log.Fatalf("Failed to start heartbeat consumer: %v", err)
	}
	if err := bk.Consume(ctx, broker.InventoryQueue, ingestor.HandleInventory); err != nil {
		log.Fatalf("Failed to start inventory consumer: %v", err)
	}
	if err := bk.Consume(ctx, broker.ResultsQueue, reconciler.HandleResult); err != nil {
		log.Fatalf("Failed to start results consumer: %v", err)
	}
	log.Printf(`{"level":"info","message":"Telemetry and results consumers started"}`)

	sw := sweeper.New(st, taskMetrics, cfg.SweepInterval, cfg.TaskQueuedTTL)
	go sw.Run(ctx)

	resources := view.NewService(st)
	handler := gateway.NewHandler(dispatcher, resources, st, catalog, tickets, cfg.AgentStaleAfter)

	router := gin.Default()
	router.Use(structuredLoggingMiddleware())
	router.Use(auth.LoadIdentity())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "store connection failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	v1.GET("/healthz", handler.Healthz)

	tenant := v1.Group("/tenant")
	tenant.Use(auth.RequireTenant())
	tenant.POST("/tasks", handler.EnqueueTask(false))
	tenant.GET("/tasks/:taskId", handler.GetTask(false))
	tenant.GET("/resources", handler.ListResources)
	tenant.GET("/metrics/overview", handler.Overview(false))
	tenant.POST("/console/serial", handler.OpenSerialConsole)
	tenant.POST("/console/net", handler.OpenNetTunnel)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	admin.POST("/tasks", handler.EnqueueTask(true))
	admin.GET("/tasks/:taskId", handler.GetTask(true))
	admin.GET("/agents", handler.GetAgents)
	admin.GET("/agents/:agentId/status", handler.GetAgentStatus)
	admin.GET("/agents/:agentId/inventory", handler.GetAgentInventory)
	admin.GET("/resources/unassigned", handler.ListUnassignedResources)
	admin.GET("/tenants/:tenantId/resources", handler.ListResources)
	admin.POST("/tenants/:tenantId/resources", handler.ClaimResources)
	admin.DELETE("/tenants/:tenantId/resources/:resourceId", handler.UnclaimResource)
	admin.GET("/metrics/overview", handler.Overview(true))
	admin.GET("/images", handler.ListImages)
	admin.GET("/images/:imageId", handler.GetImage)
	admin.GET("/images/:imageId/resolve", handler.ResolveImage)
	admin.POST("/console/serial", handler.OpenSerialConsole)
	admin.POST("/console/net", handler.OpenNetTunnel)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting OpenHVX controller on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	stop()

	log.Println("Server exited")
}

// openStore selects the configured backend, waiting for it to come up.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend == "memory" {
		log.Printf(`{"level":"warn","message":"Using in-memory store: state is lost on restart"}`)
		return store.NewMemoryStore(), nil
	}

	var st store.Store
	var err error
	for i := 0; i < 10; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		switch cfg.StoreBackend {
		case "postgres":
			st, err = store.NewPostgresStore(connectCtx, cfg.DatabaseURL)
		default:
			st, err = store.NewMongoStore(connectCtx, cfg.MongoURL, cfg.MongoDB)
		}
		cancel()
		if err == nil {
			log.Printf(`{"level":"info","message":"Connected to store","backend":"%s"}`, cfg.StoreBackend)
			return st, nil
		}
		log.Printf("Waiting for store... (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}
	return nil, err
}

func connectBroker(cfg *config.Config) (*broker.Broker, error) {
	var bk *broker.Broker
	var err error
	for i := 0; i < 10; i++ {
		bk, err = broker.Connect(cfg.RabbitURL, cfg.BrokerPrefetch, cfg.DeadLetterExchange)
		if err == nil {
			log.Printf(`{"level":"info","message":"Connected to RabbitMQ"}`)
			return bk, nil
		}
		log.Printf("Waiting for RabbitMQ... (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}
	return nil, err
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		id := auth.GetIdentity(c)

		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}
		if id.Subject != "" {
			logEntry["user_id"] = id.Subject
		}
		if id.TenantID != "" {
			logEntry["tenant_id"] = id.TenantID
		}
		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}
