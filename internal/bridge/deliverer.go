package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/actorctl/internal/observability"
	"github.com/danmuck/actorctl/internal/value"
)

const deliveryTimeout = 10 * time.Second

// Deliverer performs outbound actor-to-actor delivery: a single HTTP
// POST of the structured payload to the literal address. No retry, no
// backoff; the chain record is the durable trace.
type Deliverer struct {
	client *http.Client
	logger zerolog.Logger
}

func NewDeliverer(logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		client: &http.Client{Timeout: deliveryTimeout},
		logger: observability.Component(logger, "outbound"),
	}
}

func (d *Deliverer) Deliver(ctx context.Context, address string, payload value.Value) error {
	data, err := value.Encode(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("bridge: build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: deliver to %s: %w", address, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bridge: deliver to %s: peer answered %d", address, resp.StatusCode)
	}
	d.logger.Debug().Str("address", address).Int("status", resp.StatusCode).Msg("delivered")
	return nil
}
