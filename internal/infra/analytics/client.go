// Package analytics reports demo plays to Google Analytics 4 through the
// Measurement Protocol.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpoint = "https://www.google-analytics.com/mp/collect"
	DefaultTimeout  = 5 * time.Second

	playEvent = "play"
)

// Event is one Measurement Protocol event.
type Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type payload struct {
	ClientID string  `json:"client_id"`
	Events   []Event `json:"events"`
}

// Client sends events to a GA4 property.
type Client struct {
	measurementID string
	apiSecret     string
	endpoint      string
	timeout       time.Duration
	httpClient    *http.Client

	wg sync.WaitGroup
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each send, including the asynchronous ones.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the given measurement id and API secret.
func NewClient(measurementID, apiSecret string, opts ...Option) *Client {
	c := &Client{
		measurementID: measurementID,
		apiSecret:     apiSecret,
		endpoint:      DefaultEndpoint,
		timeout:       DefaultTimeout,
		httpClient:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TrackPlay reports a play in the background. Failures are logged.
func (c *Client) TrackPlay(ctx context.Context, productID int64, fileIndex string) {
	ev := Event{
		Name: playEvent,
		Params: map[string]any{
			"product_id": strconv.FormatInt(productID, 10),
			"file_index": fileIndex,
		},
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// The play request may finish before the event is delivered.
		if err := c.Send(context.WithoutCancel(ctx), uuid.NewString(), ev); err != nil {
			log.Warn().Err(err).Int64("product", productID).Str("file", fileIndex).Msg("Failed to track play")
		}
	}()
}

// Send posts events for clientID and waits for the collector's answer.
func (c *Client) Send(ctx context.Context, clientID string, events ...Event) error {
	body, err := json.Marshal(payload{ClientID: clientID, Events: events})
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send events: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	log.Debug().Str("client_id", clientID).Int("events", len(events)).Msg("Analytics events sent")
	return nil
}

// Wait blocks until background sends have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) collectURL() string {
	q := url.Values{}
	q.Set("measurement_id", c.measurementID)
	q.Set("api_secret", c.apiSecret)
	return c.endpoint + "?" + q.Encode()
}
