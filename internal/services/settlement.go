package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/lavash/internal/loyalty"
	"github.com/example/lavash/internal/models"
)

// ledgerRetries bounds how often a settlement is re-run when another
// order by the same user bumps the loyalty row first.
const ledgerRetries = 3

const orderCounterID = 1

var errLedgerVersionConflict = errors.New("user row version changed")

// CartItem is one priced cart line, consumed read-only.
type CartItem struct {
	DishID   int64   `json:"dish_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CreateOrderInput carries everything needed to settle a cart. UserID is
// the caller-resolved authenticated identity, nil for guests.
type CreateOrderInput struct {
	Name          string
	Phone         string
	Email         string
	DeliveryType  string
	PaymentMethod string
	Address       string
	Comment       string
	Items         []CartItem
	BonusesToUse  int
	UserID        *uuid.UUID
}

// LoyaltyDelta reports how the order moved the user's bonus state.
type LoyaltyDelta struct {
	BonusesUsed   int `json:"bonuses_used"`
	BonusesEarned int `json:"bonuses_earned"`
	NewBalance    int `json:"new_balance"`
}

// SettlementResult is the outcome of a committed order. PosWarning is
// non-empty when the order committed but the POS dispatch failed.
type SettlementResult struct {
	Order      *models.Order
	Loyalty    *LoyaltyDelta
	PosWarning string
}

// SettlementService is the only place a cart becomes an order. It owns
// the all-or-nothing transaction spanning the order header, its items
// and the loyalty ledger mutation.
type SettlementService struct {
	db       *gorm.DB
	pos      PosSubmitter
	notifier OrderNotifier
	log      *zap.Logger
}

// NewSettlementService constructs the engine. pos and notifier may be
// nil, which disables the corresponding best-effort side effect.
func NewSettlementService(db *gorm.DB, pos PosSubmitter, notifier OrderNotifier, log *zap.Logger) *SettlementService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementService{db: db, pos: pos, notifier: notifier, log: log}
}

// RegisterUser creates a customer record on first verification, crediting
// the registration bonus and its ledger entry in one transaction.
func (s *SettlementService) RegisterUser(ctx context.Context, name, phone, email string) (*models.User, error) {
	user := models.User{
		Name:         name,
		Phone:        phone,
		Email:        email,
		BonusBalance: loyalty.RegistrationBonus,
		LoyaltyLevel: loyalty.LevelBronze,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.BonusTransaction{
			UserID:       user.ID,
			Type:         models.BonusTxRegistration,
			Amount:       loyalty.RegistrationBonus,
			BalanceAfter: loyalty.RegistrationBonus,
			OccurredAt:   time.Now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("phone", user.Phone))
	return &user, nil
}

// CreateOrder validates the cart, settles it against the caller's
// loyalty state and commits order, items, user row and ledger entries
// atomically. The POS dispatch afterwards is best-effort and can only
// produce a warning, never undo the commit.
func (s *SettlementService) CreateOrder(ctx context.Context, input CreateOrderInput) (*SettlementResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var subtotal float64
	for _, item := range input.Items {
		subtotal += item.Price * float64(item.Quantity)
	}

	deliveryFee := 0.0
	if input.DeliveryType == models.DeliveryTypeDelivery {
		deliveryFee = loyalty.DeliveryFee
	}

	user, err := s.resolveUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	var (
		order *models.Order
		delta *LoyaltyDelta
	)

	for attempt := 0; attempt < ledgerRetries; attempt++ {
		order, delta = nil, nil
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var (
				bonusesUsed int
				stl         loyalty.Settlement
				u           models.User
			)
			if user != nil {
				// Re-read inside the transaction so the version check below
				// detects concurrent settlements for the same user.
				if err := tx.First(&u, "id = ?", user.ID).Error; err != nil {
					return err
				}
				bonusesUsed = loyalty.ComputeRedeemable(u.BonusBalance, subtotal, input.BonusesToUse)
				stl = loyalty.Settle(u.BonusBalance, u.TotalSpent, u.LoyaltyLevel, subtotal, bonusesUsed)
			}

			number, err := nextOrderNumber(tx)
			if err != nil {
				return err
			}

			o := models.Order{
				OrderNumber:   number,
				Status:        models.StatusPending,
				PlacedAt:      time.Now(),
				CustomerName:  input.Name,
				CustomerPhone: input.Phone,
				CustomerEmail: input.Email,
				DeliveryType:  input.DeliveryType,
				Address:       input.Address,
				Comment:       input.Comment,
				PaymentMethod: input.PaymentMethod,
				ItemsSubtotal: subtotal,
				DeliveryFee:   deliveryFee,
				BonusesUsed:   bonusesUsed,
				FinalTotal:    subtotal + deliveryFee - float64(bonusesUsed),
			}
			if user != nil {
				o.UserID = &user.ID
				o.BonusesEarned = stl.BonusesEarned
			}
			for _, item := range input.Items {
				o.Items = append(o.Items, models.OrderItem{
					DishID:    item.DishID,
					DishName:  item.Name,
					Quantity:  item.Quantity,
					UnitPrice: item.Price,
					LineTotal: item.Price * float64(item.Quantity),
				})
			}

			if err := tx.Create(&o).Error; err != nil {
				return fmt.Errorf("persist order: %w", err)
			}

			if user != nil {
				res := tx.Model(&models.User{}).
					Where("id = ? AND version = ?", u.ID, u.Version).
					Updates(map[string]any{
						"bonus_balance": stl.NewBalance,
						"total_spent":   stl.NewSpent,
						"loyalty_level": stl.NewLevel,
						"version":       u.Version + 1,
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errLedgerVersionConflict
				}

				now := time.Now()
				if bonusesUsed > 0 {
					if err := tx.Create(&models.BonusTransaction{
						UserID:       u.ID,
						OrderID:      &o.ID,
						Type:         models.BonusTxOrderPayment,
						Amount:       -bonusesUsed,
						BalanceAfter: u.BonusBalance - bonusesUsed,
						OccurredAt:   now,
					}).Error; err != nil {
						return err
					}
				}
				if stl.BonusesEarned > 0 {
					if err := tx.Create(&models.BonusTransaction{
						UserID:       u.ID,
						OrderID:      &o.ID,
						Type:         models.BonusTxOrderCashback,
						Amount:       stl.BonusesEarned,
						BalanceAfter: stl.NewBalance,
						OccurredAt:   now,
					}).Error; err != nil {
						return err
					}
				}

				delta = &LoyaltyDelta{
					BonusesUsed:   bonusesUsed,
					BonusesEarned: stl.BonusesEarned,
					NewBalance:    stl.NewBalance,
				}
			}

			order = &o
			return nil
		})

		if txErr == nil {
			break
		}
		if errors.Is(txErr, errLedgerVersionConflict) {
			s.log.Warn("ledger version conflict, retrying settlement",
				zap.Int("attempt", attempt+1))
			continue
		}
		return nil, txErr
	}
	if order == nil {
		return nil, ErrLedgerConflict
	}

	result := &SettlementResult{Order: order, Loyalty: delta}
	result.PosWarning = s.dispatchPos(ctx, order)

	if s.notifier != nil {
		items := order.Items
		go func() {
			if err := s.notifier.NotifyNewOrder(order, items); err != nil {
				s.log.Warn("order notification failed",
					zap.Int64("order_number", order.OrderNumber),
					zap.Error(err))
			}
		}()
	}

	return result, nil
}

// dispatchPos pushes the committed order to the POS and records the
// outcome on the order row. Returns a warning string on failure.
func (s *SettlementService) dispatchPos(ctx context.Context, order *models.Order) string {
	if s.pos == nil {
		return ""
	}

	posCtx, cancel := context.WithTimeout(ctx, posRequestTimeout)
	defer cancel()

	externalID, err := s.pos.Submit(posCtx, order, order.Items)

	now := time.Now()
	updates := map[string]any{"pos_synced_at": &now}

	warning := ""
	if err != nil {
		s.log.Warn("pos dispatch failed",
			zap.Int64("order_number", order.OrderNumber),
			zap.Error(err))
		msg := err.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		updates["pos_sync_error"] = msg
		warning = "order accepted, point-of-sale dispatch failed"
	} else {
		updates["external_pos_order_id"] = externalID
		order.ExternalPosOrderID = externalID
	}

	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		s.log.Warn("failed to record pos sync status",
			zap.Int64("order_number", order.OrderNumber),
			zap.Error(err))
	}
	return warning
}

// resolveUser loads the authenticated user row. A stale reference
// degrades to guest instead of failing the whole request.
func (s *SettlementService) resolveUser(ctx context.Context, userID *uuid.UUID) (*models.User, error) {
	if userID == nil {
		return nil, nil
	}
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", *userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("authenticated user not found, settling as guest",
			zap.String("user_id", userID.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// nextOrderNumber increments the single counter row and reads it back
// within the surrounding transaction. The row-level lock serializes
// concurrent settlements, so numbers are unique and monotonic.
func nextOrderNumber(tx *gorm.DB) (int64, error) {
	res := tx.Model(&models.OrderCounter{}).
		Where("id = ?", orderCounterID).
		Update("value", gorm.Expr("value + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("advance order counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, errors.New("order counter row missing")
	}

	var counter models.OrderCounter
	if err := tx.First(&counter, "id = ?", orderCounterID).Error; err != nil {
		return 0, fmt.Errorf("read order counter: %w", err)
	}
	return counter.Value, nil
}

func validateInput(input CreateOrderInput) error {
	if input.Name == "" || input.Phone == "" {
		return fmt.Errorf("%w: name and phone are required", ErrInvalidInput)
	}
	if input.DeliveryType != models.DeliveryTypeDelivery && input.DeliveryType != models.DeliveryTypePickup {
		return fmt.Errorf("%w: unknown delivery type %q", ErrInvalidInput, input.DeliveryType)
	}
	if input.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}
	// Any bad line rejects the whole cart, never a partial order.
	for i, item := range input.Items {
		if item.DishID <= 0 || item.Name == "" || item.Price <= 0 || item.Quantity < 1 {
			return fmt.Errorf("%w: line %d is invalid", ErrInvalidItems, i)
		}
	}
	return nil
}
