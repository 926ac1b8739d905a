package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/lavash/internal/models"
)

const (
	posTokenFallbackTTL = 55 * time.Minute
	posTokenLeeway      = 30 * time.Second
	posRequestTimeout   = 10 * time.Second
)

// PosSubmitter is the single contract the settlement engine has with the
// external point-of-sale system.
type PosSubmitter interface {
	Submit(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error)
}

// PosService pushes settled orders to the external POS. It holds a
// short-lived access token behind a mutex, refreshed lazily on expiry
// and retried once on 401.
type PosService struct {
	authURL string
	baseURL string
	secret  string
	client  *http.Client
	log     *zap.Logger

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewPosService constructs a PosService. Returns nil when the secret is
// not configured; the engine treats a nil adapter as POS disabled.
func NewPosService(authURL, baseURL, secret string, log *zap.Logger) *PosService {
	if secret == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PosService{
		authURL: strings.TrimRight(authURL, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: posRequestTimeout},
		log:     log,
	}
}

type posAuthResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	} `json:"data"`
}

type posOrderItem struct {
	DishID   int64   `json:"dish_id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type posOrderPayload struct {
	ExternalID   string         `json:"external_id"`
	Number       int64          `json:"number"`
	CustomerName string         `json:"customer_name"`
	Phone        string         `json:"phone"`
	DeliveryType string         `json:"delivery_type"`
	Address      string         `json:"address,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	PaymentType  string         `json:"payment_type"`
	Items        []posOrderItem `json:"items"`
	Total        float64        `json:"total"`
}

type posOrderResponse struct {
	ID string `json:"id"`
}

// Submit translates a committed order into a delivery-order call. Every
// failure mode (timeout, rejection, bad response) maps to
// ErrPosUnavailable; the caller logs it and moves on.
func (s *PosService) Submit(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error) {
	payload := posOrderPayload{
		ExternalID:   order.ID.String(),
		Number:       order.OrderNumber,
		CustomerName: order.CustomerName,
		Phone:        posPhoneFormat(order.CustomerPhone),
		DeliveryType: order.DeliveryType,
		Address:      order.Address,
		Comment:      order.Comment,
		PaymentType:  posPaymentType(order.PaymentMethod),
		Total:        order.FinalTotal,
	}
	for _, item := range items {
		payload.Items = append(payload.Items, posOrderItem{
			DishID:   item.DishID,
			Name:     item.DishName,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}

	resp, err := s.do(ctx, http.MethodPost, "/delivery-orders", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPosUnavailable, err)
	}
	if resp.status < 200 || resp.status >= 300 {
		return "", fmt.Errorf("%w: status %d body %s", ErrPosUnavailable, resp.status, string(resp.body))
	}

	var result posOrderResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrPosUnavailable, err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: response missing order id", ErrPosUnavailable)
	}
	return result.ID, nil
}

type posResponse struct {
	status int
	body   []byte
}

func (s *PosService) do(ctx context.Context, method, path string, body any) (*posResponse, error) {
	token, err := s.getToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := s.doWithToken(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusUnauthorized {
		return resp, nil
	}

	// Token likely expired server-side; refresh and retry once.
	token, err = s.getToken(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.doWithToken(ctx, method, path, body, token)
}

func (s *PosService) doWithToken(ctx context.Context, method, path string, body any, token string) (*posResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &posResponse{status: resp.StatusCode, body: respBody}, nil
}

func (s *PosService) getToken(ctx context.Context, force bool) (string, error) {
	if !force {
		s.mu.RLock()
		if token := s.currentTokenLocked(); token != "" {
			s.mu.RUnlock()
			return token, nil
		}
		s.mu.RUnlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if !force {
		if token := s.currentTokenLocked(); token != "" {
			return token, nil
		}
	}

	payload, _ := json.Marshal(map[string]string{"secret_token": s.secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build pos auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pos auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("pos auth failed: status %d body %s", resp.StatusCode, string(body))
	}

	var authResp posAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", fmt.Errorf("unmarshal pos auth response: %w", err)
	}
	if authResp.Data.AccessToken == "" {
		return "", errors.New("pos auth response missing access_token")
	}

	s.token = authResp.Data.AccessToken
	if authResp.Data.ExpiresIn > 0 {
		s.tokenExpiry = time.Now().Add(time.Duration(authResp.Data.ExpiresIn) * time.Second)
	} else {
		s.tokenExpiry = time.Now().Add(posTokenFallbackTTL)
	}
	s.log.Debug("pos token refreshed", zap.Time("expires", s.tokenExpiry))

	return s.token, nil
}

func (s *PosService) currentTokenLocked() string {
	if s.token == "" {
		return ""
	}
	if time.Now().Add(posTokenLeeway).After(s.tokenExpiry) {
		return ""
	}
	return s.token
}

func posPaymentType(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "cash":
		return "CASH"
	case "card_online":
		return "CARD_ONLINE"
	default:
		return "CARD"
	}
}

func posPhoneFormat(phone string) string {
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}
