package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"

	"github.com/slack-go/slack"
)

func newTestSlack(signingSecret string) *Slack {
	return NewSlack(config.SlackConfig{
		BotToken:      "xoxb-test",
		SigningSecret: signingSecret,
	}, testLogger())
}

// signSlack produces the v0 signature headers Slack attaches to deliveries.
func signSlack(secret string, body []byte) http.Header {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func TestSlackVerify(t *testing.T) {
	s := newTestSlack("signing-secret")
	body := []byte(`{"type":"event_callback"}`)

	if !s.Verify(body, signSlack("signing-secret", body)) {
		t.Fatal("valid signature rejected")
	}
	if s.Verify([]byte(`{"type":"tampered"}`), signSlack("signing-secret", body)) {
		t.Fatal("tampered body accepted")
	}
	if s.Verify(body, signSlack("wrong-secret", body)) {
		t.Fatal("wrong secret accepted")
	}
	if s.Verify(body, http.Header{}) {
		t.Fatal("missing headers accepted")
	}
}

func TestSlackNormalize_URLVerification(t *testing.T) {
	s := newTestSlack("s")
	body := []byte(`{"type":"url_verification","challenge":"ch4ll3nge","token":"tok"}`)

	_, err := s.Normalize(body)
	var hs *domain.HandshakeError
	if !errors.As(err, &hs) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if string(hs.Body) != "ch4ll3nge" {
		t.Fatalf("challenge = %q", hs.Body)
	}
}

func TestSlackNormalize_Message(t *testing.T) {
	s := newTestSlack("s")
	body := []byte(`{
		"token": "tok",
		"type": "event_callback",
		"event_id": "Ev08MFMKH6",
		"event": {
			"type": "message",
			"channel": "C2147483705",
			"user": "U2147483697",
			"text": "hello world",
			"ts": "1355517523.000005"
		}
	}`)

	msg, err := s.Normalize(body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.ChatID != "C2147483705" || msg.UserID != "U2147483697" {
		t.Fatalf("unexpected identity: %+v", msg)
	}
	if msg.Text != "hello world" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.RawID != "Ev08MFMKH6" {
		t.Fatalf("rawID = %q", msg.RawID)
	}
}

func TestSlackNormalize_AppMentionStripsPrefix(t *testing.T) {
	s := newTestSlack("s")
	body := []byte(`{
		"token": "tok",
		"type": "event_callback",
		"event_id": "Ev08MFMKH7",
		"event": {
			"type": "app_mention",
			"channel": "C1",
			"user": "U1",
			"text": "<@U0LAN0Z89> what are your prices",
			"ts": "1515449522.000016"
		}
	}`)

	msg, err := s.Normalize(body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if msg.Text != "what are your prices" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestSlackNormalize_Rejections(t *testing.T) {
	s := newTestSlack("s")

	cases := []struct {
		name string
		body string
		want error
	}{
		{"broken json", `{"type":`, domain.ErrMalformed},
		{"bot echo", `{"type":"event_callback","event":{"type":"message","channel":"C1","bot_id":"B1","text":"x","ts":"1.2"}}`, domain.ErrUnsupported},
		{"message edit", `{"type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","user":"U1","text":"x","ts":"1.2"}}`, domain.ErrUnsupported},
		{"reaction event", `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`, domain.ErrUnsupported},
	}
	for _, tc := range cases {
		if _, err := s.Normalize([]byte(tc.body)); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestClassifySlackError(t *testing.T) {
	res := classifySlackError(&slack.RateLimitedError{RetryAfter: 12 * time.Second})
	if res.Status != domain.RateLimited || res.RetryAfter != 12*time.Second {
		t.Fatalf("rate limited: %+v", res)
	}

	if res := classifySlackError(slack.StatusCodeError{Code: 503, Status: "503 Service Unavailable"}); res.Status != domain.TransientFailure {
		t.Fatalf("503: status = %v", res.Status)
	}
	if res := classifySlackError(errors.New("channel_not_found")); res.Status != domain.PlatformRejected {
		t.Fatalf("channel_not_found: status = %v", res.Status)
	}
	if res := classifySlackError(errors.New("internal_error")); res.Status != domain.TransientFailure {
		t.Fatalf("internal_error: status = %v", res.Status)
	}
}
