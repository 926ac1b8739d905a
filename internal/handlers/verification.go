package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/lavash/internal/config"
	"github.com/example/lavash/internal/services"
	"github.com/example/lavash/internal/utils"
	"github.com/example/lavash/internal/verification"

	"github.com/example/lavash/internal/models"
)

// VerificationHandler owns the phone verification endpoints.
type VerificationHandler struct {
	db     *gorm.DB
	cfg    *config.Config
	store  *verification.Store
	sms    services.SmsSender
	engine *services.SettlementService
	log    *zap.Logger
}

// NewVerificationHandler constructs VerificationHandler.
func NewVerificationHandler(db *gorm.DB, cfg *config.Config, store *verification.Store, sms services.SmsSender, engine *services.SettlementService, log *zap.Logger) *VerificationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &VerificationHandler{db: db, cfg: cfg, store: store, sms: sms, engine: engine, log: log}
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

// Send issues a one-time code for the phone and hands it to the SMS
// collaborator. The code itself is returned only on the debug channel.
func (h *VerificationHandler) Send(c *fiber.Ctx) error {
	var req sendCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone is required")
	}

	code, err := h.store.Issue(req.Phone)
	if err != nil {
		var rl *verification.RateLimitError
		if errors.As(err, &rl) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"message":     "verification code already sent",
				"retry_after": rl.RetryAfter,
			})
		}
		return err
	}

	phone := verification.NormalizePhone(req.Phone)
	if err := h.sms.SendCode(phone, code); err != nil {
		h.log.Warn("verification code delivery failed",
			zap.String("phone", phone), zap.Error(err))
		return fiber.NewError(fiber.StatusBadGateway, "failed to deliver verification code")
	}

	resp := fiber.Map{"success": true}
	if h.cfg.ExposeCodes {
		resp["code"] = code
	}
	return c.JSON(resp)
}

type checkCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Check validates a code and returns a session token. The first
// successful verification for a phone registers the user, which credits
// the registration bonus.
func (h *VerificationHandler) Check(c *fiber.Ctx) error {
	var req checkCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Phone == "" || req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone and code are required")
	}

	switch err := h.store.Verify(req.Phone, req.Code, false); {
	case errors.Is(err, verification.ErrNotFoundOrExpired):
		return fiber.NewError(fiber.StatusNotFound, "verification code not found or expired")
	case errors.Is(err, verification.ErrTooManyAttempts):
		return fiber.NewError(fiber.StatusTooManyRequests, "too many verification attempts")
	case errors.Is(err, verification.ErrInvalidCode):
		return fiber.NewError(fiber.StatusBadRequest, "invalid verification code")
	case err != nil:
		return err
	}

	phone := verification.NormalizePhone(req.Phone)

	registered := false
	var user models.User
	err := h.db.Where("phone = ?", phone).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, regErr := h.engine.RegisterUser(c.UserContext(), req.Name, phone, req.Email)
		if regErr != nil {
			return regErr
		}
		user = *created
		registered = true
	case err != nil:
		return err
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, utils.RoleCustomer, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"token":      token,
		"registered": registered,
		"user": fiber.Map{
			"id":            user.ID,
			"name":          user.Name,
			"phone":         user.Phone,
			"bonus_balance": user.BonusBalance,
			"loyalty_level": user.LoyaltyLevel,
		},
	})
}
