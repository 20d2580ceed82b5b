package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/campaign-dispatch/internal/config"
)

func TestParseVariations(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		count int
		want  []string
		err   error
	}{
		{"plain array", `["Oferta!", "Desconto!"]`, 5, []string{"Oferta!", "Desconto!"}, nil},
		{"wrapped in prose", "Here you go:\n```json\n[\"Oferta!\"]\n```", 5, []string{"Oferta!"}, nil},
		{"caps at count", `["a", "b", "c"]`, 2, []string{"a", "b"}, nil},
		{"drops base and duplicates", `["Promo!", "a", " a ", "", 3]`, 5, []string{"a"}, nil},
		{"no array", "sorry, I can't", 3, nil, ErrNoVariations},
		{"only base", `["Promo!"]`, 3, nil, ErrNoVariations},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseVariations(tc.reply, "Promo!", tc.count)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVariationGenerator_Generate(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_01",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]any{
				{"type": "text", "text": `["Oferta!", "Desconto!"]`},
			},
			"usage": map[string]any{"input_tokens": 10, "output_tokens": 8},
		})
	}))
	defer srv.Close()

	gen := NewVariationGenerator(
		config.LLMConfig{APIKey: "test-key", Model: "claude-test", MaxTokens: 512},
		zerolog.Nop(),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)

	got, err := gen.Generate(context.Background(), "Promo!", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Oferta!", "Desconto!"}, got)

	assert.Equal(t, "claude-test", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(512), gjson.GetBytes(body, "max_tokens").Int())
	assert.Contains(t, gjson.GetBytes(body, "messages.0.content.0.text").String(), "Promo!")
}

func TestVariationGenerator_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	gen := NewVariationGenerator(
		config.LLMConfig{APIKey: "bad", Model: "claude-test", MaxTokens: 512},
		zerolog.Nop(),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)

	_, err := gen.Generate(context.Background(), "Promo!", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm request failed")
}
