package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/deemkeen/bookfed/backoff"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/deemkeen/bookfed/jobs"
	"github.com/rs/zerolog/log"
)

// Deliverer posts signed activities to remote inboxes. A failed delivery is
// recorded with the backoff tracker and not retried.
type Deliverer struct {
	db        *db.DB
	tracker   *backoff.Tracker
	client    *http.Client
	userAgent string
}

func NewDeliverer(database *db.DB, tracker *backoff.Tracker, timeout time.Duration, userAgent string) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "bookfed"
	}
	return &Deliverer{
		db:        database,
		tracker:   tracker,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Handle runs an outbox.deliver job.
func (d *Deliverer) Handle(ctx context.Context, payload []byte) error {
	var p DeliveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Permanent(fmt.Errorf("decode delivery: %w", err))
	}
	return d.Deliver(ctx, &p)
}

func (d *Deliverer) Deliver(ctx context.Context, p *DeliveryPayload) error {
	if p.Server != "" {
		server, err := d.db.ReadServerByName(ctx, p.Server)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if server.Blocked() {
			deliveries.WithLabelValues("blocked").Inc()
			return nil
		}
	}
	host, err := extractDomain(p.Inbox)
	if err != nil {
		return jobs.Permanent(err)
	}
	if d.tracker.ShouldSkip(ctx, host) {
		deliveries.WithLabelValues("skipped").Inc()
		log.Debug().Str("inbox", p.Inbox).Msg("Delivery: host in backoff, skipping")
		return nil
	}

	sender, err := d.db.ReadActorById(ctx, p.SenderId)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("delivery sender: %w", err))
	}
	if !sender.Local || sender.PrivateKeyPem == "" {
		return jobs.Permanent(fmt.Errorf("sender %s cannot sign", sender.ActorURI))
	}
	privateKey, err := ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("failed to parse private key: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Inbox, bytes.NewReader(p.Activity))
	if err != nil {
		return jobs.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", ContentTypeActivityJSON)
	req.Header.Set("Accept", ContentTypeActivityJSON)
	req.Header.Set("User-Agent", d.userAgent)
	if err := SignRequest(req, privateKey, sender.KeyId(), p.Activity); err != nil {
		return jobs.Permanent(fmt.Errorf("failed to sign request: %w", err))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		d.failed(ctx, host, p.Inbox, errorType(err), latency, err)
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.failed(ctx, host, p.Inbox, backoff.ErrTypeHTTPStatus, latency, fmt.Errorf("remote server returned status: %d", resp.StatusCode))
		return nil
	}

	if err := d.tracker.RecordSuccess(ctx, host, latency); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Delivery: failed to record success")
	}
	deliveries.WithLabelValues("success").Inc()
	log.Debug().Str("inbox", p.Inbox).Int("status", resp.StatusCode).Msg("Delivery: delivered")
	return nil
}

func (d *Deliverer) failed(ctx context.Context, host, inbox, errType string, latency time.Duration, cause error) {
	deliveries.WithLabelValues("failure").Inc()
	log.Warn().Err(cause).Str("inbox", inbox).Str("error_type", errType).Msg("Delivery: failed")
	if err := d.tracker.RecordFailure(ctx, host, errType, latency); err != nil {
		log.Warn().Err(err).Str("host", host).Msg("Delivery: failed to record failure")
	}
}

func errorType(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return backoff.ErrTypeTimeout
	}
	return backoff.ErrTypeConnection
}
