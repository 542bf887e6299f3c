package chat

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func multipartRequest(t *testing.T, fields map[string]string, audio []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if audio != nil {
		part, err := mw.CreateFormFile("audio", "recording.wav")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		_, _ = part.Write(audio)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestParseAudioRequest(t *testing.T) {
	req := multipartRequest(t, map[string]string{
		"session_id":           "s1",
		"language":             "en-US",
		"conversation_history": `[{"role":"user","content":"hi"}]`,
	}, []byte("RIFF"))

	out, err := parseAudioRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SessionID != "s1" || out.Language != "en-US" || string(out.WAV) != "RIFF" {
		t.Fatalf("unexpected request: %+v", out)
	}
	if len(out.ConversationHistory) != 1 || out.ConversationHistory[0].Role != "user" {
		t.Fatalf("unexpected history: %+v", out.ConversationHistory)
	}
}

func TestParseAudioRequestErrors(t *testing.T) {
	if _, err := parseAudioRequest(multipartRequest(t, map[string]string{"session_id": "s1"}, nil)); err == nil {
		t.Fatal("expected error without audio file")
	}
	bad := multipartRequest(t, map[string]string{"conversation_history": "not json"}, []byte("RIFF"))
	if _, err := parseAudioRequest(bad); err == nil {
		t.Fatal("expected error for malformed history")
	}
}
