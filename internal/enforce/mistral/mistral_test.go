package mistral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nulpointcorp/sentinel-gateway/internal/enforce"
)

func TestNew_EmptyCredentialFailsFast(t *testing.T) {
	_, err := New("")
	if !errors.Is(err, enforce.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
}

func TestEnforce_ParsesStructuredAnswer(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)

		json.NewEncoder(w).Encode(chatResponse{
			ID:    "cmpl-1",
			Model: "mistral-large-latest",
			Choices: []choice{{
				Message: &chatMessage{
					Role:    "assistant",
					Content: `{"answer":"Toulouse","confidence":85,"evidence":["HQ location"],"alternatives":["Paris"]}`,
				},
				FinishReason: "stop",
			}},
			Usage: usage{PromptTokens: 12, CompletionTokens: 30},
		})
	}))
	defer srv.Close()

	e, err := New("mk-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	result, err := e.Enforce(context.Background(), &enforce.Request{
		Model:        "mistral-large-latest",
		SystemPrompt: "Answer geography questions.",
		Messages:     []enforce.Message{{Role: "user", Content: "Where is Mistral based?"}},
	})
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	if gotAuth != "Bearer mk-test" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want injected system message first", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "Answer geography questions.") {
		t.Error("caller system prompt missing from system message")
	}
	if !strings.Contains(gotReq.Messages[0].Content, `"answer"`) {
		t.Error("contract instruction missing from system message")
	}

	if result.Structured.Answer != "Toulouse" {
		t.Errorf("answer = %q", result.Structured.Answer)
	}
	if result.Structured.Confidence != 85 {
		t.Errorf("confidence = %d", result.Structured.Confidence)
	}
	if result.Usage.InputTokens != 12 || result.Usage.OutputTokens != 30 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestEnforce_UnstructuredAnswerDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			ID: "cmpl-2",
			Choices: []choice{{
				Message: &chatMessage{Role: "assistant", Content: "Just plain prose."},
			}},
		})
	}))
	defer srv.Close()

	e, _ := New("mk-test", WithBaseURL(srv.URL))
	result, err := e.Enforce(context.Background(), &enforce.Request{
		Model:    "mistral-small-latest",
		Messages: []enforce.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Structured.Answer != "Just plain prose." {
		t.Errorf("answer = %q", result.Structured.Answer)
	}
	if result.Structured.Confidence != enforce.DegradedConfidence {
		t.Errorf("confidence = %d, want degraded", result.Structured.Confidence)
	}
}

func TestEnforce_UpstreamErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	e, _ := New("mk-test", WithBaseURL(srv.URL))
	_, err := e.Enforce(context.Background(), &enforce.Request{
		Model:    "mistral-large-latest",
		Messages: []enforce.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var sc enforce.StatusCoder
	if !errors.As(err, &sc) {
		t.Fatalf("error %T does not implement StatusCoder", err)
	}
	if sc.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", sc.HTTPStatus())
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want upstream message", err)
	}
}

func TestEnforceStream_AccumulatesAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		full := `{"answer":"chunked","confidence":77,"evidence":[],"alternatives":[]}`
		half := len(full) / 2

		for _, part := range []string{full[:half], full[half:]} {
			data, _ := json.Marshal(chatResponse{
				Choices: []choice{{Delta: &chatMessage{Content: part}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		data, _ := json.Marshal(chatResponse{Usage: usage{PromptTokens: 4, CompletionTokens: 16}})
		fmt.Fprintf(w, "data: %s\n\n", data)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	e, _ := New("mk-test", WithBaseURL(srv.URL))
	stream, err := e.EnforceStream(context.Background(), &enforce.Request{
		Model:    "mistral-large-latest",
		Messages: []enforce.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	for c := range stream.Chunks {
		sb.WriteString(c.Content)
	}

	final, u, err := stream.Final()
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Answer != "chunked" || final.Confidence != 77 {
		t.Errorf("final = %+v", final)
	}
	if u.InputTokens != 4 || u.OutputTokens != 16 {
		t.Errorf("usage = %+v", u)
	}
	if sb.String() != stream.Raw() {
		t.Error("streamed text and Raw() diverged")
	}
}
