package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ironlayer/ironlayer/pkg/governance"
	"github.com/ironlayer/ironlayer/pkg/log"
	"github.com/ironlayer/ironlayer/pkg/metrics"
	"github.com/ironlayer/ironlayer/pkg/types"
)

// Delivery headers. The signature covers the exact request body.
const (
	HeaderSignature = "X-Ironlayer-Signature"
	HeaderEvent     = "X-Ironlayer-Event"
	HeaderDelivery  = "X-Ironlayer-Delivery"
)

const (
	defaultDeliveryTimeout = 10 * time.Second
	// one initial attempt plus three retries, so the backoff ladder
	// walks all of 1s, 2s, 4s before giving up
	defaultMaxAttempts     = 4
	defaultBackoffBase     = time.Second
)

// SubscriptionSource lists a tenant's webhook subscriptions.
type SubscriptionSource interface {
	ListWebhooks(ctx context.Context, tenantID string) ([]*types.WebhookSubscription, error)
}

// SecretOpener recovers a sealed signing secret. *security.Box satisfies it.
type SecretOpener interface {
	Open(encoded string) ([]byte, error)
}

// DispatcherConfig tunes delivery behavior.
type DispatcherConfig struct {
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// MaxAttempts caps attempts per subscription per event.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// URLPolicy revalidates endpoints before every dispatch.
	URLPolicy governance.WebhookURLPolicy
	// Client defaults to a dedicated client with the attempt timeout.
	Client *http.Client
}

// Dispatcher delivers bus events to matching webhook subscriptions.
// Deliveries run in their own goroutines; HandleEvent returns before any
// network I/O happens.
type Dispatcher struct {
	subs        SubscriptionSource
	secrets     SecretOpener
	policy      governance.WebhookURLPolicy
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher reading subscriptions from subs and
// signing secrets through secrets.
func NewDispatcher(subs SubscriptionSource, secrets SecretOpener, cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeliveryTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Dispatcher{
		subs:        subs,
		secrets:     secrets,
		policy:      cfg.URLPolicy,
		client:      cfg.Client,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
	}
}

// HandleEvent is the bus handler. It snapshots the tenant's active
// matching subscriptions and spawns one delivery goroutine per match.
func (d *Dispatcher) HandleEvent(ctx context.Context, event Event) error {
	if event.TenantID == "" {
		return nil
	}
	hooks, err := d.subs.ListWebhooks(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("listing webhook subscriptions: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	for _, hook := range hooks {
		if !hook.Active || !matchesEventType(hook.EventTypes, event.Type) {
			continue
		}
		d.wg.Add(1)
		go d.deliver(*hook, event, body)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func matchesEventType(filter []string, eventType EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if t == string(eventType) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(hook types.WebhookSubscription, event Event, body []byte) {
	defer d.wg.Done()

	logger := log.WithComponent("webhooks").With().
		Str("tenant_id", hook.TenantID).
		Str("subscription_id", hook.ID).
		Str("delivery_id", event.DeliveryID).
		Str("event_type", string(event.Type)).
		Logger()

	validateCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
	err := d.policy.Validate(validateCtx, hook.URL)
	cancel()
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Msg("webhook endpoint rejected")
		return
	}

	secret, err := d.signingSecret(hook)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		logger.Warn().Err(err).Msg("webhook signing secret unavailable")
		return
	}
	signature := Sign(secret, body)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(d.backoffBase << (attempt - 2))
		}
		status, err := d.post(hook.URL, event, body, signature)
		if err == nil && status >= 200 && status < 300 {
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			logger.Debug().Int("attempt", attempt).Int("status", status).Msg("webhook delivered")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("status", status).
			Msg("webhook delivery attempt failed")
	}
	logger.Error().Int("attempts", d.maxAttempts).Msg("webhook delivery exhausted retries")
}

// signingSecret opens the sealed secret and checks it against the bcrypt
// digest before any byte of it is used for signing.
func (d *Dispatcher) signingSecret(hook types.WebhookSubscription) ([]byte, error) {
	if hook.Secret != "" {
		return []byte(hook.Secret), nil
	}
	if d.secrets == nil || hook.EncryptedSecret == "" {
		return nil, fmt.Errorf("no signing secret available for subscription %s", hook.ID)
	}
	secret, err := d.secrets.Open(hook.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("opening sealed secret: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hook.SecretHash), secret); err != nil {
		return nil, fmt.Errorf("sealed secret does not match stored digest")
	}
	return secret, nil
}

func (d *Dispatcher) post(url string, event Event, body []byte, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.DeliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign computes the delivery signature for body: a hex HMAC-SHA256 tagged
// with the algorithm, matching what receivers must recompute.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature in constant time. Receivers
// embed this in their handler to authenticate deliveries.
func VerifySignature(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
