package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestOTPMessageGolden(t *testing.T) {
	msg, err := OTPMessage("alice@x.com", "alice", "123456", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", msg.To)
	assert.Equal(t, SubjectOTP, msg.Subject)
	newGoldie(t).Assert(t, "otp", []byte(msg.HTML))
}

func TestVerifiedMessageGolden(t *testing.T) {
	msg, err := VerifiedMessage("alice@x.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, SubjectVerified, msg.Subject)
	newGoldie(t).Assert(t, "verified", []byte(msg.HTML))
}

func TestTemplatesEscapeUsername(t *testing.T) {
	msg, err := OTPMessage("x@x.com", "<script>alert(1)</script>", "000000", 10*time.Minute)
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestResendSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test", "chat <no-reply@chat.test>", zap.NewNop().Sugar())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	s.client.BaseURL = base

	err = s.Send(context.Background(), Message{To: "alice@x.com", Subject: SubjectOTP, HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "chat <no-reply@chat.test>", got["from"])
	assert.Equal(t, []any{"alice@x.com"}, got["to"])
	assert.Equal(t, SubjectOTP, got["subject"])
	assert.Equal(t, "<p>hi</p>", got["html"])
}

func TestResendSenderProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"bad from"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test", "bad", zap.NewNop().Sugar())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	s.client.BaseURL = base

	err = s.Send(context.Background(), Message{To: "alice@x.com", Subject: SubjectOTP, HTML: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resend send")
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSender(zap.New(core).Sugar())

	require.NoError(t, s.Send(context.Background(), Message{To: "alice@x.com", Subject: SubjectVerified, HTML: "<p/>"}))
	entries := logs.FilterField(zap.String("to", "alice@x.com")).All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}
