package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

func TestSendSMS_PostsFormWithBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "AC1", user)
		require.Equal(t, "tok", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "+8613800000000", r.PostForm.Get("To"))
		require.Equal(t, "+100", r.PostForm.Get("From"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	c, err := New(logger.Nop(), Config{AccountSID: "AC1", AuthToken: "tok", From: "+100", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.SendSMS(context.Background(), "+8613800000000", "code 123456"))
}

func TestSendSMS_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(logger.Nop(), Config{AccountSID: "AC1", AuthToken: "tok", From: "+100", BaseURL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, c.SendSMS(context.Background(), "+1", "hi"))
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSendSMS_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	}))
	defer srv.Close()

	c, err := New(logger.Nop(), Config{AccountSID: "AC1", AuthToken: "tok", From: "+100", BaseURL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)
	err = c.SendSMS(context.Background(), "+1", "hi")
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	require.Contains(t, he.Message, "invalid To")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(logger.Nop(), Config{AccountSID: "AC1"})
	require.Error(t, err)
}
