package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/lavash/internal/config"
	"github.com/example/lavash/internal/database"
	"github.com/example/lavash/internal/routes"
	"github.com/example/lavash/internal/verification"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	cfg *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	hash, err := bcrypt.GenerateFromPassword([]byte("kitchen-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:         "test-secret",
		TokenExpires:      time.Hour,
		AdminPasswordHash: string(hash),
		ExposeCodes:       true,
	}

	store := verification.NewStore(nil)
	t.Cleanup(store.Stop)

	app := fiber.New()
	routes.Register(app, db, cfg, store, zap.NewNop())

	return &testEnv{app: app, db: db, cfg: cfg}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

// verifyPhone walks the send/check flow and returns a session token.
func (e *testEnv) verifyPhone(t *testing.T, phone, name string) string {
	t.Helper()

	status, body := e.request(t, http.MethodPost, "/api/verification/send", "", fiber.Map{"phone": phone})
	require.Equal(t, http.StatusOK, status)
	code, _ := body["code"].(string)
	require.Len(t, code, 4)

	status, body = e.request(t, http.MethodPost, "/api/verification/check", "", fiber.Map{
		"phone": phone, "code": code, "name": name,
	})
	require.Equal(t, http.StatusOK, status)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestVerificationFlowRegistersUser(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.request(t, http.MethodPost, "/api/verification/send", "", fiber.Map{"phone": "+7 999 123-45-67"})
	require.Equal(t, http.StatusOK, status)
	code := body["code"].(string)

	// Re-sending inside the 60s window is rate limited.
	status, body = env.request(t, http.MethodPost, "/api/verification/send", "", fiber.Map{"phone": "8 999 123 45 67"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotNil(t, body["retry_after"])

	// A wrong code is rejected and counted.
	wrong := "0000"
	if wrong == code {
		wrong = "1111"
	}
	status, _ = env.request(t, http.MethodPost, "/api/verification/check", "", fiber.Map{
		"phone": "79991234567", "code": wrong,
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// The right code registers the user with the welcome bonus.
	status, body = env.request(t, http.MethodPost, "/api/verification/check", "", fiber.Map{
		"phone": "79991234567", "code": code, "name": "Анна",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["registered"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "79991234567", user["phone"])
	assert.Equal(t, float64(200), user["bonus_balance"])
	assert.Equal(t, "bronze", user["loyalty_level"])

	// The code is single use.
	status, _ = env.request(t, http.MethodPost, "/api/verification/check", "", fiber.Map{
		"phone": "79991234567", "code": code,
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCheckKnownUserDoesNotReRegister(t *testing.T) {
	env := newTestEnv(t)

	env.verifyPhone(t, "79995554433", "Пётр")

	// A successful check evicts the challenge, so a fresh code can be
	// issued right away. The second full flow must not re-register.
	status, body := env.request(t, http.MethodPost, "/api/verification/send", "", fiber.Map{"phone": "79995554433"})
	require.Equal(t, http.StatusOK, status)
	code := body["code"].(string)

	status, body = env.request(t, http.MethodPost, "/api/verification/check", "", fiber.Map{
		"phone": "79995554433", "code": code,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["registered"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "Пётр", user["name"])
	assert.Equal(t, float64(200), user["bonus_balance"])
}

func TestOrderFlowWithLoyalty(t *testing.T) {
	env := newTestEnv(t)
	token := env.verifyPhone(t, "79991234567", "Анна")

	cart := []fiber.Map{
		{"dish_id": 1, "name": "Лаваш с курицей", "price": 490, "quantity": 2},
		{"dish_id": 7, "name": "Морс", "price": 150, "quantity": 1},
	}

	status, body := env.request(t, http.MethodPost, "/api/orders", token, fiber.Map{
		"name":           "Анна",
		"phone":          "79991234567",
		"delivery_type":  "pickup",
		"payment_method": "cash",
		"items":          cart,
		"bonuses_to_use": 100,
	})
	require.Equal(t, http.StatusCreated, status)

	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1130), data["items_subtotal"])
	assert.Equal(t, float64(100), data["bonuses_used"])
	assert.Equal(t, float64(1030), data["final_total"])

	loyaltyDelta := body["loyalty"].(map[string]any)
	// 2% bronze cashback on 1030 net.
	assert.Equal(t, float64(20), loyaltyDelta["bonuses_earned"])
	assert.Equal(t, float64(120), loyaltyDelta["new_balance"])

	// Profile reflects the settlement.
	status, body = env.request(t, http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, status)
	profile := body["data"].(map[string]any)
	assert.Equal(t, float64(120), profile["bonus_balance"])
	assert.Equal(t, float64(1030), profile["total_spent"])

	// The ledger lists registration, debit and cashback entries.
	status, body = env.request(t, http.MethodGet, "/api/profile/bonus", token, nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["data"].([]any)
	assert.Len(t, entries, 3)

	// Own order listing sees the new order.
	status, body = env.request(t, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, status)
	orders := body["data"].([]any)
	require.Len(t, orders, 1)
}

func TestGuestOrderHasNoLoyalty(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.request(t, http.MethodPost, "/api/orders", "", fiber.Map{
		"name":           "Иван",
		"phone":          "79990000001",
		"delivery_type":  "delivery",
		"payment_method": "card",
		"address":        "ул. Мира, 5",
		"items": []fiber.Map{
			{"dish_id": 1, "name": "Лаваш с курицей", "price": 490, "quantity": 2},
			{"dish_id": 7, "name": "Морс", "price": 150, "quantity": 1},
		},
		"bonuses_to_use": 500,
	})
	require.Equal(t, http.StatusCreated, status)

	data := body["data"].(map[string]any)
	assert.Equal(t, float64(200), data["delivery_fee"])
	assert.Equal(t, float64(1330), data["final_total"])
	assert.Equal(t, float64(0), data["bonuses_used"])
	assert.Nil(t, body["loyalty"])
}

func TestOrderValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	// Empty cart.
	status, _ := env.request(t, http.MethodPost, "/api/orders", "", fiber.Map{
		"name": "Иван", "phone": "79990000001",
		"delivery_type": "pickup", "payment_method": "cash",
		"items": []fiber.Map{},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// A zero-price line rejects the whole cart.
	status, _ = env.request(t, http.MethodPost, "/api/orders", "", fiber.Map{
		"name": "Иван", "phone": "79990000001",
		"delivery_type": "pickup", "payment_method": "cash",
		"items": []fiber.Map{
			{"dish_id": 1, "name": "Лаваш с курицей", "price": 490, "quantity": 1},
			{"dish_id": 2, "name": "Чай", "price": 0, "quantity": 1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminStatusTransitions(t *testing.T) {
	env := newTestEnv(t)

	// Place a guest order to act on.
	status, body := env.request(t, http.MethodPost, "/api/orders", "", fiber.Map{
		"name": "Иван", "phone": "79990000001",
		"delivery_type": "pickup", "payment_method": "cash",
		"items": []fiber.Map{
			{"dish_id": 1, "name": "Лаваш с курицей", "price": 490, "quantity": 1},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	orderID := body["data"].(map[string]any)["id"].(string)

	// Wrong password is rejected.
	status, _ = env.request(t, http.MethodPost, "/api/admin/login", "", fiber.Map{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = env.request(t, http.MethodPost, "/api/admin/login", "", fiber.Map{"password": "kitchen-secret"})
	require.Equal(t, http.StatusOK, status)
	adminToken := body["token"].(string)

	// Requests without an admin token are rejected.
	status, _ = env.request(t, http.MethodGet, "/api/admin/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	path := fmt.Sprintf("/api/admin/orders/%s/status", orderID)

	// pending -> delivering skips preparation and is rejected.
	status, _ = env.request(t, http.MethodPatch, path, adminToken, fiber.Map{"status": "delivering"})
	assert.Equal(t, http.StatusConflict, status)

	for _, next := range []string{"preparing", "delivering", "completed"} {
		status, _ = env.request(t, http.MethodPatch, path, adminToken, fiber.Map{"status": next})
		require.Equal(t, http.StatusOK, status, next)
	}

	// Completed is terminal.
	status, _ = env.request(t, http.MethodPatch, path, adminToken, fiber.Map{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, status)
}
