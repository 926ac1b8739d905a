package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/lavash/internal/models"
)

// OrderNotifier announces settled orders to the staff channel.
// Best-effort: failures are logged and never affect the order.
type OrderNotifier interface {
	NotifyNewOrder(order *models.Order, items []models.OrderItem) error
}

// TelegramService posts order notifications to the admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	log         *zap.Logger
}

// NewTelegramService creates a TelegramService.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramService{botToken: botToken, adminChatID: adminChatID, log: log}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("telegram bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatPrice formats an amount with thousand separators and the ruble sign.
func FormatPrice(amount float64) string {
	str := fmt.Sprintf("%d", int64(amount))

	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(" ")
		}
		result.WriteRune(digit)
	}
	return result.String() + " ₽"
}

// NotifyNewOrder posts a new-order summary to the admin chat.
func (s *TelegramService) NotifyNewOrder(order *models.Order, items []models.OrderItem) error {
	if s.adminChatID == "" {
		return nil
	}

	var itemsList strings.Builder
	for i, item := range items {
		itemsList.WriteString(fmt.Sprintf("%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			item.DishName,
			item.Quantity,
			FormatPrice(item.UnitPrice),
			FormatPrice(item.LineTotal),
		))
	}

	deliveryText := "Самовывоз"
	if order.DeliveryType == models.DeliveryTypeDelivery {
		deliveryText = "Доставка: " + order.Address
	}

	var bonusLine string
	if order.BonusesUsed > 0 {
		bonusLine = fmt.Sprintf("\n<b>🎁 Бонусами:</b> %d", order.BonusesUsed)
	}

	message := fmt.Sprintf(`<b>🛒 НОВЫЙ ЗАКАЗ №%d</b>
<b>👤 Клиент:</b> %s
<b>📞 Телефон:</b> %s
<b>📦 Состав:</b>
%s
<b>🚚 %s</b>
<b>💰 Итого:</b> %s%s
<b>💳 Оплата:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.OrderNumber,
		order.CustomerName,
		order.CustomerPhone,
		itemsList.String(),
		deliveryText,
		FormatPrice(order.FinalTotal),
		bonusLine,
		order.PaymentMethod,
	)

	return s.SendMessage(s.adminChatID, strings.TrimSpace(message))
}
