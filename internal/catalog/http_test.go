package catalog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPClientConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_RequiredConfig(t *testing.T) {
	_, err := NewHTTPClient(HTTPClientConfig{Token: "t"})
	require.Error(t, err)

	_, err = NewHTTPClient(HTTPClientConfig{BaseURL: "http://localhost"})
	require.Error(t, err)
}

func TestHTTPClient_SendsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Catalog-Access-Token"))
		w.Write([]byte(`{"value":"WELCOME-ABCD1234"}`))
	})

	code, err := c.GetWelcomeCode(context.Background(), 123)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME-ABCD1234", code)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{"code":"not_found","message":"no such annotation"}`, ErrNotFound},
		{"conflict", http.StatusConflict, `{"code":"code_taken","message":"duplicate"}`, ErrConflict},
		{"validation conflict", http.StatusUnprocessableEntity, `{"code":"code_taken","message":"duplicate"}`, ErrConflict},
		{"rate limited", http.StatusTooManyRequests, `{"code":"throttled","message":"slow down"}`, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.GetWelcomeCode(context.Background(), 123)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPClient_GenericFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"internal","message":"boom"}`))
	})

	_, err := c.GetWelcomeCode(context.Background(), 123)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrRateLimited)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "internal", apiErr.Code)
}

func TestHTTPClient_CreateDiscountCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/price_rules/77/discount_codes", r.URL.Path)
		w.Write([]byte(`{"id":"dc-9","code":"WELCOME-TEST0001","usage_count":0,"created_at":"2026-03-01T12:00:00Z"}`))
	})

	dc, err := c.CreateDiscountCode(context.Background(), 77, "WELCOME-TEST0001")
	require.NoError(t, err)
	assert.Equal(t, "dc-9", dc.ID)
	assert.Equal(t, "WELCOME-TEST0001", dc.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), dc.CreatedAt)
}

func TestHTTPClient_ListDiscountCodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price_rules/77/discount_codes", r.URL.Path)

		switch r.URL.Query().Get("page_token") {
		case "":
			w.Header().Set("X-Next-Page-Token", "cursor-2")
			w.Write([]byte(`{"discount_codes":[
				{"id":"1","code":"WELCOME-A","usage_count":2,"created_at":"2026-01-01T00:00:00Z"},
				{"id":"2","code":"WELCOME-B","usage_count":0,"created_at":"2026-02-01T00:00:00Z"}
			]}`))
		case "cursor-2":
			w.Write([]byte(`{"discount_codes":[
				{"id":"3","code":"WELCOME-C","usage_count":1,"created_at":"2026-03-01T00:00:00Z"}
			]}`))
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	})

	first, err := c.ListDiscountCodes(context.Background(), 77, "")
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "cursor-2", first.NextToken)
	assert.Equal(t, "WELCOME-A", first.Items[0].Code)
	assert.Equal(t, 2, first.Items[0].UsageCount)

	second, err := c.ListDiscountCodes(context.Background(), 77, first.NextToken)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextToken)
}

func TestHTTPClient_ListDiscountCodes_ReservedCharacterToken(t *testing.T) {
	// The continuation token is opaque; a base64-style cursor carries URL
	// reserved characters that must survive the round trip intact.
	const token = "a+b/c==&page=2"

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page_token") {
		case "":
			w.Header().Set("X-Next-Page-Token", token)
			w.Write([]byte(`{"discount_codes":[
				{"id":"1","code":"WELCOME-A","usage_count":0,"created_at":"2026-01-01T00:00:00Z"}
			]}`))
		case token:
			w.Write([]byte(`{"discount_codes":[
				{"id":"2","code":"WELCOME-B","usage_count":0,"created_at":"2026-02-01T00:00:00Z"}
			]}`))
		default:
			t.Errorf("token corrupted in transit: got %q", r.URL.Query().Get("page_token"))
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	first, err := c.ListDiscountCodes(context.Background(), 77, "")
	require.NoError(t, err)
	require.Equal(t, token, first.NextToken)

	second, err := c.ListDiscountCodes(context.Background(), 77, first.NextToken)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "WELCOME-B", second.Items[0].Code)
}

func TestHTTPClient_SetWelcomeFields(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/customers/123/annotations", r.URL.Path)
		buf, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.SetWelcomeFields(context.Background(), 123, []Field{
		{Key: "welcome_code", Value: "WELCOME-X"},
		{Key: "welcome_code_used", Value: "false"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields":[
		{"key":"welcome_code","value":"WELCOME-X"},
		{"key":"welcome_code_used","value":"false"}
	]}`, gotBody)
}

func TestHTTPClient_DeleteDiscountCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/price_rules/77/discount_codes/dc-9", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteDiscountCode(context.Background(), 77, "dc-9"))
}
