package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	ctx := context.Background()
	expires := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)

	t.Run("hides the code by default", func(t *testing.T) {
		var buf bytes.Buffer
		n := &service.LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
		require.NoError(t, n.SendOTP(ctx, "+91-555-0100", "482913", expires))

		require.NotContains(t, buf.String(), "482913")
		require.NotContains(t, buf.String(), "+91-555-0100")
		require.Contains(t, buf.String(), "0100")
	})

	t.Run("includes the code when asked", func(t *testing.T) {
		var buf bytes.Buffer
		n := &service.LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil)), IncludeCode: true}
		require.NoError(t, n.SendOTP(ctx, "+91-555-0100", "482913", expires))
		require.Contains(t, buf.String(), "482913")
	})
}

func TestWebhookNotifier(t *testing.T) {
	ctx := context.Background()
	expires := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)

	t.Run("posts the code", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "key-123", r.Header.Get("Authorization"))
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		n := service.NewWebhookNotifier(srv.URL, "key-123")
		require.NoError(t, n.SendOTP(ctx, "+91-555-0100", "482913", expires))

		require.Equal(t, "otp", got["route"])
		require.Equal(t, "+91-555-0100", got["identifier"])
		require.Equal(t, "482913", got["code"])
		require.EqualValues(t, expires.Unix(), got["expires_at"])
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusPaymentRequired)
		}))
		defer srv.Close()

		err := service.NewWebhookNotifier(srv.URL, "").SendOTP(ctx, "+91-555-0100", "482913", expires)
		require.ErrorContains(t, err, "status=402")
		require.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("missing url", func(t *testing.T) {
		require.Error(t, service.NewWebhookNotifier("", "").SendOTP(ctx, "x", "1", expires))
	})
}
