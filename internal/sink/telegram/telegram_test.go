package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, ErrNoToken)
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Token: "TOKEN", Proxy: "://nope"}, nil)
	require.ErrorContains(t, err, "parse telegram proxy")
}

func TestSendPostsHTMLMessage(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":42}}}`))
	}))
	defer srv.Close()

	sink, err := New(Config{Token: "TOKEN", APIBase: srv.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), "42", "<b>Дюна</b>"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>Дюна</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestSendReportsAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code int
		desc string
	}{
		{
			name: "known rejection",
			body: `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			code: 403,
			desc: "Forbidden: bot was blocked by the user",
		},
		{
			name: "unlisted rejection",
			body: `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`,
			code: 400,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			sink, err := New(Config{Token: "TOKEN", APIBase: srv.URL}, nil)
			require.NoError(t, err)

			err = sink.Send(context.Background(), "42", "hi")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.code, apiErr.Code)
			if tc.desc != "" {
				assert.Equal(t, tc.desc, apiErr.Description)
			}
		})
	}
}

func TestSendHidesTokenOnTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	sink, err := New(Config{Token: "SECRET", APIBase: base}, nil)
	require.NoError(t, err)

	err = sink.Send(context.Background(), "42", "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET")
}

func TestSendHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	sink, err := New(Config{Token: "TOKEN", APIBase: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Send(ctx, "42", "hi"), context.Canceled)
}

func TestClassifyKeepsUnknownErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))

	var apiErr *APIError
	require.ErrorAs(t, classify(tele.ErrBlockedByUser), &apiErr)
	assert.Equal(t, 403, apiErr.Code)
}
