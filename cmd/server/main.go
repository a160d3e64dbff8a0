package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"procureflow/internal/api/handler"
	"procureflow/internal/core/postgres/repository"
	"procureflow/internal/domain"
	"procureflow/internal/engine"
	infraredis "procureflow/internal/infrastructure/redis"
	"procureflow/internal/resolver"
	"procureflow/internal/scheduler"
	"procureflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. Set up database connection
	dsn := getenv("DATABASE_DSN", "host=localhost user=postgres password=yourpassword dbname=procureflow port=5432 sslmode=disable")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := db.AutoMigrate(
		&domain.WorkflowDefinition{},
		&domain.WorkflowExecution{},
		&domain.ExecutionStage{},
		&domain.StageActionLog{},
		&domain.AuditRecord{},
	); err != nil {
		log.Fatal("Failed to migrate schema:", err)
	}

	// 2. Redis: deadline index + notification fan-out
	poolSize, err := strconv.Atoi(getenv("REDIS_POOL_SIZE", "100"))
	if err != nil {
		log.Fatal("Invalid REDIS_POOL_SIZE:", err)
	}
	redisClient, err := infraredis.NewClient(getenv("REDIS_ADDR", "localhost:6379"), poolSize)
	if err != nil {
		log.Fatal("Failed to connect to redis:", err)
	}
	deadlines := infraredis.NewRedisDeadlineStore(redisClient)
	notifier := infraredis.NewRedisNotifier(redisClient)

	// 3. Repositories and adapters
	definitionRepo := repository.NewDefinitionRepository(db)
	executionRepo := repository.NewExecutionRepository(db)
	auditSink := repository.NewAuditSink(db)

	// 4. Approver directory: swap in the real user/role service here
	directory := resolver.NewStaticDirectory(map[string][]string{
		"procurement-manager": {"alice", "bob"},
		"finance-officer":     {"carol"},
		"legal-counsel":       {"dave"},
	})
	approverResolver := resolver.NewResolver(directory)

	// 5. Execution engine
	clock := scheduler.RealClock{}
	eng := engine.NewEngine(definitionRepo, executionRepo, approverResolver, directory, deadlines, notifier, auditSink, clock)

	// 6. SLA scheduler: recover persisted deadlines, then poll
	pollInterval, err := time.ParseDuration(getenv("SLA_POLL_INTERVAL", "15s"))
	if err != nil {
		log.Fatal("Invalid SLA_POLL_INTERVAL:", err)
	}
	slaScheduler := scheduler.NewScheduler(deadlines, executionRepo, eng, clock, pollInterval)
	ctx := context.Background()
	if err := slaScheduler.Recover(ctx); err != nil {
		log.Fatal("Failed to recover stage deadlines:", err)
	}
	go slaScheduler.Start(ctx)

	// 7. Service and handler
	workflowSvc := service.NewWorkflowService(definitionRepo, executionRepo, eng)
	workflowHandler := handler.NewWorkflowHandler(workflowSvc)

	// 8. Set up routes
	router := gin.Default()

	api := router.Group("/api/v1")
	{
		api.POST("/definitions", workflowHandler.CreateDefinition)
		api.GET("/definitions", workflowHandler.ListDefinitions)
		api.GET("/definitions/:id", workflowHandler.GetDefinition)
		api.POST("/definitions/:id/versions/:version/activate", workflowHandler.ActivateDefinition)

		api.POST("/executions", workflowHandler.CreateExecution)
		api.GET("/executions/:id", workflowHandler.GetExecution)
		api.POST("/executions/:id/actions", workflowHandler.SubmitAction)
		api.POST("/executions/:id/stages/:stageId/reassign", workflowHandler.ReassignStage)
		api.POST("/executions/:id/stages/:stageId/escalate", workflowHandler.EscalateStage)
		api.POST("/executions/:id/cancel", workflowHandler.CancelExecution)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 9. Start server
	addr := getenv("LISTEN_ADDR", ":8080")
	log.Println("Server starting on", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
