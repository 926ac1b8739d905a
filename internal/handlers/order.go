package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/lavash/internal/middleware"
	"github.com/example/lavash/internal/models"
	"github.com/example/lavash/internal/services"
	"github.com/example/lavash/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	db     *gorm.DB
	engine *services.SettlementService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB, engine *services.SettlementService) *OrderHandler {
	return &OrderHandler{db: db, engine: engine}
}

type cartItemRequest struct {
	DishID   int64   `json:"dish_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type createOrderRequest struct {
	Name          string            `json:"name"`
	Phone         string            `json:"phone"`
	Email         string            `json:"email"`
	DeliveryType  string            `json:"delivery_type"`
	PaymentMethod string            `json:"payment_method"`
	Address       string            `json:"address"`
	Comment       string            `json:"comment"`
	Items         []cartItemRequest `json:"items"`
	BonusesToUse  int               `json:"bonuses_to_use"`
}

// CreateOrder settles a cart into an order. Guests may order; an
// authenticated caller additionally gets loyalty settlement.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input := services.CreateOrderInput{
		Name:          req.Name,
		Phone:         req.Phone,
		Email:         req.Email,
		DeliveryType:  req.DeliveryType,
		PaymentMethod: req.PaymentMethod,
		Address:       req.Address,
		Comment:       req.Comment,
		BonusesToUse:  req.BonusesToUse,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, services.CartItem{
			DishID:   item.DishID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	if userID, ok := middleware.GetCurrentUserID(c); ok {
		input.UserID = &userID
	}

	result, err := h.engine.CreateOrder(c.UserContext(), input)
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidItems):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrLedgerConflict):
		return fiber.NewError(fiber.StatusConflict, "order could not be settled, please retry")
	case err != nil:
		return err
	}

	order := result.Order
	resp := fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":             order.ID,
			"order_number":   order.OrderNumber,
			"status":         order.Status,
			"placed_at":      order.PlacedAt,
			"items_subtotal": order.ItemsSubtotal,
			"delivery_fee":   order.DeliveryFee,
			"bonuses_used":   order.BonusesUsed,
			"bonuses_earned": order.BonusesEarned,
			"final_total":    order.FinalTotal,
		},
		"loyalty": result.Loyalty,
	}
	if result.PosWarning != "" {
		resp["pos_warning"] = result.PosWarning
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListOrders returns orders for the authenticated user.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Where("user_id = ?", userID).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("placed_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetOrder returns a single order for the authenticated user.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.Preload("Items").
		First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}
