package quotes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func disabledLog() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestFetchQuotes_BatchRequest(t *testing.T) {
	var gotSymbols string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbols = r.URL.Query().Get("symbols")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"quotes":[
			{"symbol":"aapl","last":100,"high":102,"change":3,"change_percent":3.1,"volume":2000000,"avg_volume":1000000},
			{"symbol":"MSFT","last":300,"high":310,"change":-2,"change_percent":-0.7,"volume":900000,"avg_volume":1000000}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, disabledLog())

	quotes, err := client.FetchQuotes([]string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL,MSFT", gotSymbols)

	require.Len(t, quotes, 2)
	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, 100.0, quotes[0].Last)
	assert.Equal(t, 2_000_000.0, quotes[0].Volume)
	assert.Equal(t, "MSFT", quotes[1].Symbol)
}

func TestFetchQuotes_EmptyBatchSkipsRequest(t *testing.T) {
	client := NewClient("http://unused", disabledLog())

	quotes, err := client.FetchQuotes(nil)
	require.NoError(t, err)
	assert.Nil(t, quotes)
}

func TestFetchQuotes_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, disabledLog())

	_, err := client.FetchQuotes([]string{"AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFetchQuotes_FeedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quotes":[],"error":"unknown symbols"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, disabledLog())

	_, err := client.FetchQuotes([]string{"ZZZZ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbols")
}
