package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stepup "github.com/BlakeMcBride1625/stepup"
)

func TestDiscordSendOpensDMAndPostsMessage(t *testing.T) {
	var gotAuth, gotRecipient, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users/@me/channels":
			var body struct {
				RecipientID string `json:"recipient_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode channel request: %v", err)
			}
			gotRecipient = body.RecipientID
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "chan-9"})
		case r.Method == http.MethodPost && r.URL.Path == "/channels/chan-9/messages":
			var body struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode message request: %v", err)
			}
			gotContent = body.Content
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-4"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n := &DiscordNotifier{
		BotToken: "token-1",
		BaseURL:  srv.URL,
		Resolve:  func(principal string) (string, bool) { return "user-7", principal == "alice" },
	}

	handle, err := n.Send(context.Background(), "alice", "your code")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if handle != "chan-9:msg-4" {
		t.Fatalf("expected handle chan-9:msg-4, got %q", handle)
	}
	if gotAuth != "Bot token-1" {
		t.Fatalf("expected bot authorization header, got %q", gotAuth)
	}
	if gotRecipient != "user-7" {
		t.Fatalf("expected resolved recipient, got %q", gotRecipient)
	}
	if gotContent != "your code" {
		t.Fatalf("expected message content, got %q", gotContent)
	}
}

func TestDiscordSendFailsWithoutMapping(t *testing.T) {
	n := &DiscordNotifier{
		BaseURL: "http://127.0.0.1:0",
		Resolve: func(string) (string, bool) { return "", false },
	}
	if _, err := n.Send(context.Background(), "mallory", "text"); err == nil {
		t.Fatal("expected error for unmapped principal")
	}
}

func TestDiscordDelete(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &DiscordNotifier{BaseURL: srv.URL}
	if err := n.Delete(context.Background(), "alice", "chan-9:msg-4"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotPath != "/channels/chan-9/messages/msg-4" {
		t.Fatalf("unexpected delete path %q", gotPath)
	}
}

func TestDiscordDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	n := &DiscordNotifier{BaseURL: srv.URL}
	err := n.Delete(context.Background(), "alice", "chan-9:msg-4")
	if !errors.Is(err, stepup.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for 404, got %v", err)
	}

	// a malformed handle never had a message behind it
	err = n.Delete(context.Background(), "alice", "garbage")
	if !errors.Is(err, stepup.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for malformed handle, got %v", err)
	}
}

func TestDiscordSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := &DiscordNotifier{BaseURL: srv.URL}
	if _, err := n.Send(context.Background(), "alice", "text"); err == nil {
		t.Fatal("expected error for non-2xx API response")
	}
}

func TestTelegramSendFormEncodesAndReturnsHandle(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotChat = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 88},
		})
	}))
	defer srv.Close()

	n := &TelegramNotifier{
		BotToken: "bot-token",
		BaseURL:  srv.URL,
		Resolve:  func(principal string) (string, bool) { return "chat-5", principal == "alice" },
	}

	handle, err := n.Send(context.Background(), "alice", "your code")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if handle != "chat-5:88" {
		t.Fatalf("expected handle chat-5:88, got %q", handle)
	}
	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotChat != "chat-5" || gotText != "your code" {
		t.Fatalf("unexpected form values chat=%q text=%q", gotChat, gotText)
	}
}

func TestTelegramSendFailsWithoutMapping(t *testing.T) {
	n := &TelegramNotifier{
		BaseURL: "http://127.0.0.1:0",
		Resolve: func(string) (string, bool) { return "", false },
	}
	if _, err := n.Send(context.Background(), "mallory", "text"); err == nil {
		t.Fatal("expected error for unmapped principal")
	}

	bare := &TelegramNotifier{BaseURL: "http://127.0.0.1:0"}
	if _, err := bare.Send(context.Background(), "alice", "text"); err == nil {
		t.Fatal("expected error without a resolver")
	}
}

func TestTelegramDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: message to delete not found",
		})
	}))
	defer srv.Close()

	n := &TelegramNotifier{BotToken: "bot-token", BaseURL: srv.URL}
	err := n.Delete(context.Background(), "alice", "chat-5:88")
	if !errors.Is(err, stepup.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestTelegramDeleteReportsOtherFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  403,
			"description": "Forbidden: bot was blocked by the user",
		})
	}))
	defer srv.Close()

	n := &TelegramNotifier{BotToken: "bot-token", BaseURL: srv.URL}
	err := n.Delete(context.Background(), "alice", "chat-5:88")
	if err == nil || errors.Is(err, stepup.ErrMessageNotFound) {
		t.Fatalf("expected a distinct failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected the API description in the error, got %v", err)
	}
}
