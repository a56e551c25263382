package nlu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_Extract(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		content := `{"ticker":"FGNX","trigger":9.16,"stop":8.25,"side":"buy","extended_hours":true,"targets":[10,11.16],"reason":null}`
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	ex, err := c.Extract(context.Background(), "FGNX عند تجاوز ٩.١٦ وقف ٨.٢٥")
	require.NoError(t, err)
	require.True(t, ex.Complete())
	require.Equal(t, "FGNX", *ex.Ticker)
	require.Equal(t, 9.16, *ex.Trigger)
	require.Equal(t, 8.25, *ex.Stop)
	require.Len(t, ex.Targets, 2)

	require.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "system", gotReq.Messages[0].Role)
	require.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Extract(context.Background(), "x")
	require.Error(t, err)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
}

func TestClient_EmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Extract(context.Background(), "x")
	require.Error(t, err)
}
