/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// DispatcherConfig contains configuration for Dispatcher
type DispatcherConfig struct {
	IntentStore     store.IntentStore
	PollingInterval time.Duration
	RequestTimeout  time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	BatchSize       int
}

// Dispatcher drains the webhook delivery queue and POSTs signed events to
// merchant endpoints. Due records are processed sequentially per tick, so
// attempts for one record are never concurrent.
type Dispatcher struct {
	intentStore store.IntentStore
	httpClient  *http.Client

	pollingInterval time.Duration
	requestTimeout  time.Duration
	maxAttempts     int
	backoffBase     time.Duration
	backoffCap      time.Duration
	batchSize       int

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffCap < cfg.BackoffBase {
		return nil, fmt.Errorf("invalid backoff window: base %v, cap %v", cfg.BackoffBase, cfg.BackoffCap)
	}

	httpClient, err := createDeliveryHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create delivery http client: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Dispatcher{
		intentStore:     cfg.IntentStore,
		httpClient:      httpClient,
		pollingInterval: cfg.PollingInterval,
		requestTimeout:  cfg.RequestTimeout,
		maxAttempts:     cfg.MaxAttempts,
		backoffBase:     cfg.BackoffBase,
		backoffCap:      cfg.BackoffCap,
		batchSize:       batchSize,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}, nil
}

func createDeliveryHttpClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Start begins the delivery loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}

	go d.deliverLoop(ctx)

	zap.L().Info("Webhook dispatcher started",
		zap.Duration("polling_interval", d.pollingInterval),
		zap.Int("max_attempts", d.maxAttempts),
		zap.Duration("backoff_base", d.backoffBase),
		zap.Duration("backoff_cap", d.backoffCap))

	return nil
}

// Stop gracefully stops the dispatcher; an in-flight attempt may finish or
// time out.
func (d *Dispatcher) Stop() {
	zap.L().Info("Stopping webhook dispatcher")
	close(d.stopChan)
	<-d.doneChan
	zap.L().Info("Webhook dispatcher stopped")
}

func (d *Dispatcher) deliverLoop(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.DeliverDue(ctx)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// DeliverDue attempts every due delivery record once.
func (d *Dispatcher) DeliverDue(ctx context.Context) {
	deliveries, err := d.intentStore.DueDeliveries(ctx, time.Now().UTC(), d.batchSize)
	if err != nil {
		zap.L().Error("Failed to load due deliveries", zap.Error(err))
		return
	}

	for _, delivery := range deliveries {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}
		d.attempt(ctx, delivery)
	}
}

// attempt POSTs one delivery and records the outcome. Success is any 2xx
// response; everything else schedules a retry until the attempt cap marks
// the record dead-lettered.
func (d *Dispatcher) attempt(ctx context.Context, delivery models.WebhookDelivery) {
	merchant, err := d.intentStore.GetMerchantById(ctx, delivery.MerchantId)
	if err != nil {
		// No request ever left the process, so the failure does not count
		// against the attempt cap; the record is just pushed back.
		zap.L().Error("Failed to resolve merchant for delivery",
			zap.String("payment_id", delivery.PaymentId),
			zap.String("merchant_id", delivery.MerchantId),
			zap.Error(err))
		d.reschedule(ctx, delivery, fmt.Sprintf("merchant lookup: %v", err))
		return
	}
	if merchant.WebhookUrl == "" {
		// Merchant opted out of webhooks; the event is considered delivered.
		if err := d.intentStore.MarkDelivered(ctx, delivery.IntentId, delivery.EventType, "no webhook url configured"); err != nil {
			zap.L().Error("Failed to mark no-op delivery", zap.Error(err))
		}
		return
	}

	outcome, ok := d.post(ctx, merchant, delivery)
	if ok {
		if err := d.intentStore.MarkDelivered(ctx, delivery.IntentId, delivery.EventType, outcome); err != nil {
			zap.L().Error("Failed to mark delivery as delivered",
				zap.String("payment_id", delivery.PaymentId),
				zap.String("event_type", delivery.EventType),
				zap.Error(err))
			return
		}
		zap.L().Info("Webhook delivered",
			zap.String("payment_id", delivery.PaymentId),
			zap.String("event_type", delivery.EventType),
			zap.Int("attempt", delivery.Attempts+1),
			zap.String("outcome", outcome))
		return
	}

	d.recordFailure(ctx, delivery, outcome)
}

func (d *Dispatcher) post(ctx context.Context, merchant *models.Merchant, delivery models.WebhookDelivery) (string, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, d.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, merchant.WebhookUrl, bytes.NewReader(delivery.Payload))
	if err != nil {
		return fmt.Sprintf("build request: %v", err), false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, delivery.EventType)
	req.Header.Set(SignatureHeader, Sign(merchant.WebhookSecret, delivery.Payload))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("request failed: %v", err), false
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return fmt.Sprintf("HTTP %d", resp.StatusCode), true
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode), false
}

func (d *Dispatcher) recordFailure(ctx context.Context, delivery models.WebhookDelivery, outcome string) {
	attempts := delivery.Attempts + 1
	deadLetter := attempts >= d.maxAttempts

	err := d.intentStore.MarkDeliveryAttempt(ctx, store.DeliveryAttemptParams{
		IntentId:    delivery.IntentId,
		EventType:   delivery.EventType,
		Outcome:     outcome,
		NextRetryAt: time.Now().UTC().Add(d.backoff(attempts)),
		DeadLetter:  deadLetter,
	})
	if err != nil {
		zap.L().Error("Failed to record delivery attempt",
			zap.String("payment_id", delivery.PaymentId),
			zap.String("event_type", delivery.EventType),
			zap.Error(err))
		return
	}

	if deadLetter {
		zap.L().Error("Webhook delivery dead-lettered",
			zap.String("payment_id", delivery.PaymentId),
			zap.String("event_type", delivery.EventType),
			zap.Int("attempts", attempts),
			zap.String("outcome", outcome))
		return
	}

	zap.L().Warn("Webhook delivery failed, retry scheduled",
		zap.String("payment_id", delivery.PaymentId),
		zap.String("event_type", delivery.EventType),
		zap.Int("attempt", attempts),
		zap.Int("max_attempts", d.maxAttempts),
		zap.String("outcome", outcome))
}

// reschedule pushes a delivery back after a pre-request failure without
// consuming an attempt. Retry timing uses the same backoff curve as a real
// failed attempt would have.
func (d *Dispatcher) reschedule(ctx context.Context, delivery models.WebhookDelivery, outcome string) {
	nextRetryAt := time.Now().UTC().Add(d.backoff(delivery.Attempts + 1))
	if err := d.intentStore.DeferDelivery(ctx, delivery.IntentId, delivery.EventType, outcome, nextRetryAt); err != nil {
		zap.L().Error("Failed to defer delivery",
			zap.String("payment_id", delivery.PaymentId),
			zap.String("event_type", delivery.EventType),
			zap.Error(err))
	}
}

// backoff returns base * 2^(attempt-1) capped, with up to 20% jitter so
// retries for many records spread out.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.backoffCap {
			delay = d.backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}
