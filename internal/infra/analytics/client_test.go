package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	*httptest.Server
	mu       sync.Mutex
	queries  []string
	payloads []payload
	status   int
}

func newCollector(t *testing.T, status int) *collector {
	t.Helper()
	c := &collector{status: status}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.queries = append(c.queries, r.URL.RawQuery)
		c.payloads = append(c.payloads, p)
		c.mu.Unlock()
		w.WriteHeader(c.status)
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *collector) received() []payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]payload(nil), c.payloads...)
}

func TestTrackPlay(t *testing.T) {
	col := newCollector(t, http.StatusNoContent)
	client := NewClient("G-TEST123", "s3cret", WithEndpoint(col.URL+"/mp/collect"))

	client.TrackPlay(context.Background(), 42, "f1")
	client.Wait()

	got := col.received()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ClientID)
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "play", got[0].Events[0].Name)
	assert.Equal(t, "42", got[0].Events[0].Params["product_id"])
	assert.Equal(t, "f1", got[0].Events[0].Params["file_index"])
	assert.Equal(t, "api_secret=s3cret&measurement_id=G-TEST123", col.queries[0])
}

func TestTrackPlayOutlivesRequestContext(t *testing.T) {
	col := newCollector(t, http.StatusNoContent)
	client := NewClient("G-TEST123", "s3cret", WithEndpoint(col.URL), WithHTTPClient(col.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	client.TrackPlay(ctx, 1, "a")
	cancel()
	client.Wait()

	assert.Len(t, col.received(), 1)
}

func TestSendErrors(t *testing.T) {
	t.Run("collector rejects", func(t *testing.T) {
		col := newCollector(t, http.StatusForbidden)
		client := NewClient("G-1", "bad", WithEndpoint(col.URL))
		err := client.Send(context.Background(), "cid", Event{Name: "play"})
		assert.ErrorContains(t, err, "403")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		client := NewClient("G-1", "x", WithEndpoint(srv.URL), WithTimeout(50*time.Millisecond))
		start := time.Now()
		err := client.Send(context.Background(), "cid", Event{Name: "play"})
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("failed background send does not panic", func(t *testing.T) {
		client := NewClient("G-1", "x", WithEndpoint("http://127.0.0.1:1/collect"), WithTimeout(time.Second))
		client.TrackPlay(context.Background(), 1, "a")
		client.Wait()
	})
}
