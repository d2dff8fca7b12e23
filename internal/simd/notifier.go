package simd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/logger"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/utils"
)

var (
	ErrInvalidURL       = errors.New("invalid callback URL")
	ErrMetadataEndpoint = errors.New("callback URL targets a cloud metadata endpoint")
)

// CallbackSecretHeader carries the caller-provided secret on every callback
const CallbackSecretHeader = "X-Burst-Adapt-Callback-Secret"

// NotificationPayload is the JSON body POSTed to a run's callback URL
type NotificationPayload struct {
	Run       models.Run               `json:"run"`
	Result    *models.AdaptationResult `json:"result,omitempty"`
	Timestamp int64                    `json:"timestamp"`
}

// Notifier delivers run completion callbacks with retries
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy

	wg sync.WaitGroup
}

// NewNotifier creates a notifier retrying 3 times with 1s, 2s, 4s delays
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    utils.NewExponentialBackoff(time.Second, 30*time.Second, 2, true),
	}
}

// ValidateCallbackURL rejects URLs that are not plain http(s) or that target
// metadata or wildcard addresses
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.EqualFold(host, "metadata.google.internal") || host == "169.254.169.254" {
		return fmt.Errorf("%w: %s", ErrMetadataEndpoint, host)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return fmt.Errorf("%w: wildcard address %s", ErrInvalidURL, host)
	}
	return nil
}

// Notify sends the run snapshot to callbackURL in the background
func (n *Notifier) Notify(callbackURL, callbackSecret string, rec *RunRecord) {
	if callbackURL == "" {
		return
	}
	if rec == nil {
		logger.Warn("cannot notify: nil run record", "callback_url", callbackURL)
		return
	}

	payload := NotificationPayload{
		Run:       rec.Run,
		Result:    rec.Result,
		Timestamp: time.Now().UTC().UnixMilli(),
	}
	finalURL := strings.ReplaceAll(callbackURL, "{run_id}", rec.Run.ID)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.send(finalURL, callbackSecret, payload)
	}()
}

// Wait blocks until every pending notification has finished
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(callbackURL, callbackSecret string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload", "run_id", payload.Run.ID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying notification", "run_id", payload.Run.ID, "attempt", attempt, "delay", delay)
			time.Sleep(delay)
		}

		lastErr = n.post(callbackURL, callbackSecret, body)
		if lastErr == nil {
			logger.Info("notification sent", "run_id", payload.Run.ID, "status", payload.Run.Status)
			return
		}
		logger.Warn("notification attempt failed",
			"callback_url", callbackURL,
			"run_id", payload.Run.ID,
			"attempt", attempt+1,
			"error", lastErr)
	}

	logger.Error("failed to send notification after retries",
		"callback_url", callbackURL,
		"run_id", payload.Run.ID,
		"max_retries", n.maxRetries,
		"last_error", lastErr)
}

func (n *Notifier) post(callbackURL, callbackSecret string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "burst-adaptation/1.0")
	if callbackSecret != "" {
		req.Header.Set(CallbackSecretHeader, callbackSecret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, snippet)
}
