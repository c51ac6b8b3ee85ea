// ABOUTME: Tests for the outbound provider client
// ABOUTME: Verifies retry counts, backoff waits, transport short-circuit and payload shape

package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadworks/relay-gateway/internal/channel"
)

func newTestDeliverer(textEndpoint, emailEndpoint string) (*Deliverer, *[]time.Duration) {
	d := New(Config{
		TextEndpoint:  textEndpoint,
		EmailEndpoint: emailEndpoint,
	}, nil)

	var waits []time.Duration
	d.sleep = func(wait time.Duration) {
		waits = append(waits, wait)
	}
	return d, &waits
}

func TestDeliverer_Deliver_FirstAttemptSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","id":"msg-123"}`))
	}))
	defer server.Close()

	d, waits := newTestDeliverer(server.URL, server.URL)

	resp, err := d.Deliver(context.Background(), channel.TypeText, &Payload{
		From: "+15551234567",
		To:   "+15557654321",
		Body: "hello",
		Type: "sms",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success","id":"msg-123"}`, string(resp.Body))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestDeliverer_Deliver_RetriesWithEscalatingWaits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail the first two attempts, succeed on the third.
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	d, waits := newTestDeliverer(server.URL, server.URL)

	resp, err := d.Deliver(context.Background(), channel.TypeText, &Payload{Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *waits)
}

func TestDeliverer_Deliver_ExhaustsAttemptBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"provider down"}`))
	}))
	defer server.Close()

	d, waits := newTestDeliverer(server.URL, server.URL)

	_, err := d.Deliver(context.Background(), channel.TypeEmail, &Payload{Body: "hello"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "provider down")

	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, *waits, 2)
}

func TestDeliverer_Deliver_TransportFailureNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	d, waits := newTestDeliverer(server.URL, server.URL)

	_, err := d.Deliver(context.Background(), channel.TypeText, &Payload{Body: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Empty(t, *waits)
}

func TestDeliverer_Deliver_LocalErrorIsNotUnreachable(t *testing.T) {
	// A request that cannot even be built fails locally; only transport
	// failures carry the unreachable sentinel.
	d, waits := newTestDeliverer("://missing-scheme", "://missing-scheme")

	_, err := d.Deliver(context.Background(), channel.TypeText, &Payload{Body: "hello"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "building request")
	assert.Empty(t, *waits)
}

func TestDeliverer_Deliver_RoutesByChannel(t *testing.T) {
	var textCalls, emailCalls atomic.Int32
	textServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		textCalls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer textServer.Close()
	emailServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		emailCalls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer emailServer.Close()

	d, _ := newTestDeliverer(textServer.URL, emailServer.URL)

	_, err := d.Deliver(context.Background(), channel.TypeText, &Payload{Body: "sms"})
	require.NoError(t, err)
	_, err = d.Deliver(context.Background(), channel.TypeEmail, &Payload{Body: "mail"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), textCalls.Load())
	assert.Equal(t, int32(1), emailCalls.Load())
}

func TestDeliverer_Deliver_PayloadShape(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		// Unmarshal into a non-nil map keeps prior entries; reset between requests.
		captured = map[string]any{}
		require.NoError(t, json.Unmarshal(body, &captured))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	d, _ := newTestDeliverer(server.URL, server.URL)

	_, err := d.Deliver(context.Background(), channel.TypeText, &Payload{
		From:       "+15551234567",
		To:         "+15557654321",
		Body:       "hello",
		Attachment: []string{},
		Type:       "sms",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", captured["from"])
	assert.Equal(t, "+15557654321", captured["to"])
	assert.Equal(t, "hello", captured["body"])
	assert.Equal(t, "sms", captured["type"])

	// Email payloads carry no type field at all.
	_, err = d.Deliver(context.Background(), channel.TypeEmail, &Payload{
		From:       "jane@example.com",
		To:         "john@example.com",
		Body:       "hello",
		Attachment: []string{},
	})
	require.NoError(t, err)
	assert.NotContains(t, captured, "type")
}
