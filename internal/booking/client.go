package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/fathima-sithara/session-service/internal/domain"
)

// Client looks bookings up over HTTP from the booking service. It is the
// source of truth for participant ids and the scheduled start; nothing from
// it is cached here.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "booking-service",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		base:    baseURL,
		http:    &http.Client{Transport: tr, Timeout: timeout},
		breaker: cb,
	}
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, bookingID)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: booking service unavailable", domain.ErrTransientStore)
		}
		return nil, err
	}
	return out.(*domain.Booking), nil
}

func (c *Client) fetch(ctx context.Context, bookingID string) (*domain.Booking, error) {
	var b *domain.Booking
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/bookings/"+bookingID, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound))
		case resp.StatusCode >= 500:
			return fmt.Errorf("booking service status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("booking service status %d", resp.StatusCode))
		}

		var body struct {
			Data domain.Booking `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(err)
		}
		b = &body.Data
		if b.ID == "" {
			b.ID = bookingID
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return b, nil
}
