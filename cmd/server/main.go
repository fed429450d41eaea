package main

import (
	"context"
	"log"
	"time"

	"billing-api/internal/api"
	"billing-api/internal/billing"
	"billing-api/internal/config"
	"billing-api/internal/database"
	"billing-api/internal/services"
	"billing-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	// Billing platform client
	client := billing.NewSandbox()
	if err := billing.ValidateCatalog(context.Background(), client); err != nil {
		log.Fatal("Failed to validate product catalog:", err)
	}

	// Persistence and sync
	profileStore := database.NewProfileStore(database.GetDB())
	ledger, err := services.NewCreditLedger(profileStore, services.LedgerOptions{})
	if err != nil {
		log.Fatal("Failed to initialize credit ledger:", err)
	}
	syncer := services.NewProfileSyncGateway(database.GetRedis())
	bonusStore := database.NewBonusStore(database.GetDB(), ledger.ProfileID())

	// Core services
	events := services.NewEventBus()
	tracker := services.NewProcessedTransactionTracker()
	handler := services.NewTransactionHandler(tracker, ledger, client, syncer, events)
	resolver := services.NewEntitlementResolver(client, ledger, syncer, services.ResolverOptions{
		RetryDelay: time.Duration(config.AppConfig.EntitlementRetryDelayMS) * time.Millisecond,
	})
	bonus := services.NewBonusScheduler(
		bonusStore,
		services.NewJSONPrefsStore(config.AppConfig.LegacyPrefsFile),
		ledger, syncer, events,
		services.BonusOptions{},
	)

	purchases := services.NewPurchaseCoordinator(client, handler, events)
	defer purchases.Close()
	subscriptions := services.NewSubscriptionCoordinator(client, handler, resolver, bonus, events, services.SubscriptionOptions{
		BonusIntervalDays: config.AppConfig.BonusIntervalDays,
	})
	defer subscriptions.Close()

	// Reconcile subscription state on launch without delaying startup.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := subscriptions.RefreshStatus(ctx, false); err != nil {
			logging.Errorf("Startup subscription refresh failed: %v", err)
		}
	}()

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, &api.Handlers{
		Purchases:     purchases,
		Subscriptions: subscriptions,
		Ledger:        ledger,
		History:       profileStore,
		Events:        events,
		ServiceName:   config.AppConfig.ServiceName,
	}, config.AppConfig.APIKey)

	// Start server
	port := config.AppConfig.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
