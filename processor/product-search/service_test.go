package productsearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/storechat/conversation"
	"github.com/c360studio/storechat/llm/testutil"
)

func defaultIndex(t *testing.T) *Index {
	t.Helper()
	products, err := LoadCatalog("")
	require.NoError(t, err)
	return NewIndex(products)
}

func userQuery(texts ...string) conversation.QueryRequest {
	var req conversation.QueryRequest
	for _, text := range texts {
		req.Messages = append(req.Messages, conversation.Turn{Role: conversation.RoleUser, Text: text})
	}
	return req
}

func TestAnswer(t *testing.T) {
	mock := testutil.Text("The Player Stratocaster has three alnico 5 single-coil pickups.")
	svc := New(defaultIndex(t), mock)

	resp, err := svc.Answer(context.Background(), userQuery("Tell me about the Stratocaster"))

	require.NoError(t, err)
	assert.Equal(t, "The Player Stratocaster has three alnico 5 single-coil pickups.", resp.Response)
	assert.False(t, resp.RequiresCustomerID)
	assert.Equal(t, []string{"gtr-001"}, resp.Metadata["sources"])

	req := mock.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "Title: Fender Player Stratocaster")
	assert.Contains(t, req.Messages[1].Content, "User Question: Tell me about the Stratocaster")
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.1, *req.Temperature)
}

func TestAnswer_UsesWholeConversation(t *testing.T) {
	mock := testutil.Text("Yes, it comes with a sustain pedal.")
	svc := New(defaultIndex(t), mock, WithTopK(1), WithTemperature(0.4))

	resp, err := svc.Answer(context.Background(), conversation.QueryRequest{Messages: []conversation.Turn{
		{Role: conversation.RoleUser, Text: "I'm looking at a digital piano"},
		{Role: conversation.RoleAssistant, Text: "We carry a Yamaha model."},
		{Role: conversation.RoleUser, Text: "Does it include a pedal?"},
	}})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-001"}, resp.Metadata["sources"])
	assert.Equal(t, 0.4, *mock.LastRequest().Temperature)
}

func TestAnswer_NoMatches(t *testing.T) {
	mock := testutil.Text("We don't stock saxophones at the moment.")
	resp, err := New(defaultIndex(t), mock).Answer(context.Background(), userQuery("saxophone"))

	require.NoError(t, err)
	assert.Equal(t, []string{}, resp.Metadata["sources"])
	assert.Contains(t, mock.LastRequest().Messages[1].Content, "Context: No matching products.")
}

func TestAnswer_ModelFailure(t *testing.T) {
	for name, mock := range map[string]*testutil.MockLLMClient{
		"error": {Err: errors.New("LLM API error (status 401): invalid api key")},
		"empty": testutil.Text("   "),
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := New(defaultIndex(t), mock).Answer(context.Background(), userQuery("ukulele"))

			require.NoError(t, err)
			assert.Equal(t, Apology, resp.Response)
			assert.Equal(t, ErrorCodeGeneration, resp.Metadata["error"])
			assert.NotContains(t, resp.Metadata, "sources")
		})
	}
}

func TestAnswer_NoUserMessage(t *testing.T) {
	_, err := New(defaultIndex(t), testutil.Text("x")).Answer(context.Background(), conversation.QueryRequest{})
	assert.ErrorIs(t, err, ErrNoUserMessage)
}

func TestHandleQuery(t *testing.T) {
	mux := http.NewServeMux()
	svc := New(defaultIndex(t), testutil.Text("The SM58 is our most popular vocal mic."))
	NewHandler(svc, nil).RegisterHTTPHandlers("/api/products/", mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/products/query", "application/json",
		strings.NewReader(`{"messages": [{"role": "user", "message": "Which vocal microphone do you sell?"}], "customer_id": "37077"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Response string `json:"response"`
		Metadata struct {
			Sources []string `json:"sources"`
		} `json:"metadata"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "The SM58 is our most popular vocal mic.", got.Response)
	assert.Contains(t, got.Metadata.Sources, "mic-001")

	bad, err := http.Post(srv.URL+"/api/products/query", "application/json",
		strings.NewReader(`{"messages": [{"role": "bot", "message": "hi"}]}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	health, err := http.Get(srv.URL + "/api/products/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
