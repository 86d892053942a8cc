package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("неожиданный путь %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("нет заголовка авторизации")
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("не удалось распаковать запрос: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != ResponseFormatTypeJSONObject {
			t.Fatalf("ожидали json_object")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL+"/", time.Second)
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{
		Model:          "gpt-4o-mini",
		Messages:       []ChatMessage{{Role: RoleUser, Content: "hi"}},
		ResponseFormat: &ChatCompletionResponseFormat{Type: ResponseFormatTypeJSONObject},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "{}" {
		t.Fatalf("неожиданный ответ: %+v", resp)
	}
}

func TestCreateImageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"content policy"}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, time.Second)
	_, err := c.CreateImage(context.Background(), ImageRequest{Model: "dall-e-3", Prompt: "moon"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("ожидали APIError 400, получили %v", err)
	}
}

func TestEmptyKey(t *testing.T) {
	c := NewClient("", "", 0)
	if c.Configured() {
		t.Fatal("клиент без ключа не должен считаться сконфигурированным")
	}
	if _, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("ожидали ErrNoAPIKey, получили %v", err)
	}
}
