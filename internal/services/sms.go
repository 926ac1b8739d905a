package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SmsSender delivers verification codes. The transport is a collaborator
// of the challenge store, nothing more.
type SmsSender interface {
	SendCode(phone, code string) error
}

var smsHTTPClient = &http.Client{Timeout: 15 * time.Second}

// SmsGateway sends messages through an HTTP SMS provider, caching its
// bearer token the same way the POS adapter does.
type SmsGateway struct {
	baseURL  string
	username string
	password string
	log      *zap.Logger

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// NewSmsGateway constructs an SmsGateway.
func NewSmsGateway(baseURL, username, password string, log *zap.Logger) *SmsGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &SmsGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		log:      log,
	}
}

// SendCode delivers a verification code to the phone.
func (g *SmsGateway) SendCode(phone, code string) error {
	token, err := g.getToken(false)
	if err != nil {
		return fmt.Errorf("sms auth: %w", err)
	}

	status, err := g.post(token, phone, code)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		if token, err = g.getToken(true); err != nil {
			return fmt.Errorf("sms auth: %w", err)
		}
		if status, err = g.post(token, phone, code); err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("sms gateway returned status %d", status)
	}
	return nil
}

func (g *SmsGateway) post(token, phone, code string) (int, error) {
	payload, _ := json.Marshal(map[string]string{
		"phone":   phone,
		"message": fmt.Sprintf("Код подтверждения: %s", code),
	})

	req, err := http.NewRequest(http.MethodPost, g.baseURL+"/sms/send", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("sms request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := smsHTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

type smsAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (g *SmsGateway) getToken(force bool) (string, error) {
	if !force {
		g.mu.RLock()
		if g.token != "" && time.Now().Before(g.tokenExpiry) {
			t := g.token
			g.mu.RUnlock()
			return t, nil
		}
		g.mu.RUnlock()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring the write lock.
	if !force && g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"username": g.username,
		"password": g.password,
	})

	req, err := http.NewRequest(http.MethodPost, g.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("auth request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := smsHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("auth failed: status %d body %s", resp.StatusCode, string(body))
	}

	var authResp smsAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", fmt.Errorf("auth unmarshal: %w", err)
	}
	if authResp.Token == "" {
		return "", errors.New("auth response missing token")
	}

	g.token = authResp.Token
	if authResp.ExpiresIn > 0 {
		g.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - 30*time.Second)
	} else {
		g.tokenExpiry = time.Now().Add(55 * time.Minute)
	}

	return g.token, nil
}

// LogSmsSender logs codes instead of delivering them. Used when no
// gateway is configured, so local development does not need a provider.
type LogSmsSender struct {
	Log *zap.Logger
}

// SendCode logs the code at Info.
func (s LogSmsSender) SendCode(phone, code string) error {
	log := s.Log
	if log == nil {
		log = zap.L()
	}
	log.Info("sms gateway disabled, verification code not delivered",
		zap.String("phone", phone),
		zap.String("code", code))
	return nil
}
