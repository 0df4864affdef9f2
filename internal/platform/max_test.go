package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
)

func newTestMax(secret, apiBase string) *Max {
	return NewMax(config.MaxConfig{
		APIKey:        "key",
		APIBase:       apiBase,
		WebhookSecret: secret,
	}, testLogger())
}

func signMax(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMaxVerify(t *testing.T) {
	m := newTestMax("topsecret", "")
	body := []byte(`{"message":{"chat":{"id":"42"},"text":"hello"}}`)

	h := http.Header{}
	h.Set("X-Max-Signature", signMax("topsecret", body))
	if !m.Verify(body, h) {
		t.Fatal("valid signature rejected")
	}

	// Tampered body must fail against the original signature.
	tampered := []byte(`{"message":{"chat":{"id":"42"},"text":"evil"}}`)
	if m.Verify(tampered, h) {
		t.Fatal("tampered body accepted")
	}

	// Missing and empty signatures must fail, never match trivially.
	if m.Verify(body, http.Header{}) {
		t.Fatal("missing signature accepted")
	}
	h2 := http.Header{}
	h2.Set("X-Max-Signature", "")
	if m.Verify(body, h2) {
		t.Fatal("empty signature accepted")
	}
}

func TestMaxVerify_NoSecretConfigured(t *testing.T) {
	m := newTestMax("", "")
	if !m.Verify([]byte(`{}`), http.Header{}) {
		t.Fatal("unset secret must accept")
	}
}

func TestMaxNormalize(t *testing.T) {
	m := newTestMax("s", "")

	msg, err := m.Normalize([]byte(`{"message":{"message_id":555,"from":{"id":9},"chat":{"id":"42"},"text":"hello"}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.ChatID != "42" || msg.UserID != "9" || msg.Text != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.RawID != "555" {
		t.Fatalf("rawID = %q", msg.RawID)
	}
}

func TestMaxNormalize_NumericChatID(t *testing.T) {
	m := newTestMax("s", "")
	msg, err := m.Normalize([]byte(`{"message":{"message_id":1,"chat":{"id":42},"text":"hi"}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.ChatID != "42" {
		t.Fatalf("chatID = %q", msg.ChatID)
	}
}

func TestMaxNormalize_MissingIDGetsDigest(t *testing.T) {
	m := newTestMax("s", "")
	body := []byte(`{"message":{"chat":{"id":"42"},"text":"hello"}}`)

	m1, err := m.Normalize(body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if m1.RawID == "" || m1.RawID == "0" {
		t.Fatalf("expected digest rawID, got %q", m1.RawID)
	}
	// Same body yields the same digest so redeliveries still dedup.
	m2, _ := m.Normalize(body)
	if m1.RawID != m2.RawID {
		t.Fatalf("digest not stable: %q vs %q", m1.RawID, m2.RawID)
	}
}

func TestMaxNormalize_Rejections(t *testing.T) {
	m := newTestMax("s", "")

	cases := []struct {
		name string
		body string
		want error
	}{
		{"broken json", `{"message":`, domain.ErrMalformed},
		{"no message", `{"event":"chat_created"}`, domain.ErrUnsupported},
		{"no text", `{"message":{"chat":{"id":"42"}}}`, domain.ErrUnsupported},
		{"no chat", `{"message":{"text":"hi"}}`, domain.ErrUnsupported},
	}
	for _, tc := range cases {
		if _, err := m.Normalize([]byte(tc.body)); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestMaxSend_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		retryAfter string
		want       domain.DeliveryStatus
	}{
		{"ok", http.StatusOK, "", domain.Delivered},
		{"created", http.StatusCreated, "", domain.Delivered},
		{"rate limited", http.StatusTooManyRequests, "3", domain.RateLimited},
		{"server error", http.StatusBadGateway, "", domain.TransientFailure},
		{"bad request", http.StatusBadRequest, "", domain.PlatformRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/sendMessage" {
				t.Errorf("%s: path = %s", tc.name, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer key" {
				t.Errorf("%s: auth = %q", tc.name, got)
			}
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			w.WriteHeader(tc.status)
		}))

		m := newTestMax("s", srv.URL)
		res := m.Send(context.Background(), "42", "hello")
		srv.Close()

		if res.Status != tc.want {
			t.Errorf("%s: status = %v, want %v", tc.name, res.Status, tc.want)
		}
		if tc.want == domain.RateLimited && res.RetryAfter != 3*time.Second {
			t.Errorf("%s: retryAfter = %v", tc.name, res.RetryAfter)
		}
	}
}

func TestMaxSend_NetworkErrorIsTransient(t *testing.T) {
	m := newTestMax("s", "http://127.0.0.1:1")
	if res := m.Send(context.Background(), "42", "hello"); res.Status != domain.TransientFailure {
		t.Fatalf("status = %v", res.Status)
	}
}
