package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/lavash/internal/config"
	"github.com/example/lavash/internal/handlers"
	"github.com/example/lavash/internal/middleware"
	"github.com/example/lavash/internal/services"
	"github.com/example/lavash/internal/verification"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, store *verification.Store, log *zap.Logger) {
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log.Named("telegram"))
	pos := services.NewPosService(cfg.PosAuthURL, cfg.PosBaseURL, cfg.PosSecret, log.Named("pos"))

	var sms services.SmsSender = services.LogSmsSender{Log: log.Named("sms")}
	if cfg.SmsEnabled {
		sms = services.NewSmsGateway(cfg.SmsBaseURL, cfg.SmsUsername, cfg.SmsPassword, log.Named("sms"))
	}

	// A nil *PosService must stay a nil interface for the engine's
	// disabled check.
	var submitter services.PosSubmitter
	if pos != nil {
		submitter = pos
	}
	engine := services.NewSettlementService(db, submitter, telegram, log.Named("settlement"))

	verificationHandler := handlers.NewVerificationHandler(db, cfg, store, sms, engine, log.Named("verification"))
	orderHandler := handlers.NewOrderHandler(db, engine)
	profileHandler := handlers.NewProfileHandler(db)
	adminHandler := handlers.NewAdminHandler(db, cfg)

	api := app.Group("/api")

	// Phone verification
	verify := api.Group("/verification")
	verify.Post("/send", verificationHandler.Send)
	verify.Post("/check", verificationHandler.Check)

	// Orders: creation is open to guests, listing needs a session
	api.Post("/orders", middleware.OptionalAuthMiddleware(cfg), orderHandler.CreateOrder)

	protected := api.Group("", middleware.AuthMiddleware(cfg))
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Get("/profile", profileHandler.GetProfile)
	protected.Get("/profile/bonus", profileHandler.ListBonusTransactions)

	// Admin surface
	api.Post("/admin/login", adminHandler.Login)
	admin := api.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Get("/orders", adminHandler.ListAllOrders)
	admin.Get("/stats", adminHandler.Stats)
	admin.Patch("/orders/:id/status", adminHandler.UpdateOrderStatus)
}
