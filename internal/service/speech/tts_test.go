package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/config"
)

func TestResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
	}
	for _, tt := range tests {
		if got := resourceCandidates(tt.voice); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		lang     string
		want     []string
	}{
		{name: "request and fallback", request: "a", fallback: "b", want: []string{"a", "b"}},
		{name: "duplicates ignored", request: "EN_voice", fallback: "en_voice", want: []string{"EN_voice"}},
		{name: "language default", lang: "zh-CN", want: []string{"zh_female_vv_uranus_bigtts"}},
		{name: "nothing configured", want: []string{"en_female_amy_jupiter_bigtts"}},
	}
	for _, tt := range tests {
		if got := speakerCandidates(tt.request, tt.fallback, tt.lang); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsResourceMismatch(t *testing.T) {
	if isResourceMismatch(nil) {
		t.Error("nil error should not match")
	}
	if isResourceMismatch(errors.New("other")) {
		t.Error("unrelated error should not match")
	}
	if !isResourceMismatch(fmt.Errorf(`tts error: {"error":"resource ID is mismatched with speaker related resource"}`)) {
		t.Error("mismatch substring should match")
	}
}

func TestPitchSemitones(t *testing.T) {
	cases := map[float32]int{1: 0, 0: 0, 1.2: 3, 0.9: -2, 0.95: -1, 8: 12}
	for ratio, want := range cases {
		if got := pitchSemitones(ratio); got != want {
			t.Errorf("pitchSemitones(%v) = %d, want %d", ratio, got, want)
		}
	}
}

func TestComputeEmotionParameters(t *testing.T) {
	ok, label, scale := ComputeEmotionParameters("en_male_glen_emo_v2_mars_bigtts", mood.Decision{Label: mood.Sad, Score: 3})
	if !ok || label != "sad" || scale != 3 {
		t.Fatalf("got %v %q %v", ok, label, scale)
	}
	if ok, _, _ := ComputeEmotionParameters("en_female_amy_jupiter_bigtts", mood.Decision{Label: mood.Sad, Score: 3}); ok {
		t.Fatal("non-emotional voice should not enable emotion")
	}
	if ok, _, _ := ComputeEmotionParameters("en_male_glen_emo_v2_mars_bigtts", mood.Decision{Label: mood.Neutral}); ok {
		t.Fatal("neutral mood should not enable emotion")
	}
}

func TestBuildRequestMapsVoice(t *testing.T) {
	c := NewTTSClient(config.SpeechConfig{TTSSpeed: 1, TTSVolume: 1}, zerolog.Nop())
	req := c.buildRequest(SynthesisRequest{Text: "hi", Language: "en-US", Speed: 0.8, Pitch: 1.2}, "en_female_amy_jupiter_bigtts")

	if req.ReqParams.AudioParams.SpeedRatio != 0.8 {
		t.Errorf("speed = %v", req.ReqParams.AudioParams.SpeedRatio)
	}
	if req.ReqParams.Language != "en" {
		t.Errorf("language = %q", req.ReqParams.Language)
	}
	if !strings.Contains(req.ReqParams.Additions, `"pitch":3`) {
		t.Errorf("additions = %s", req.ReqParams.Additions)
	}
}

func TestSynthesizeRequiresCredentials(t *testing.T) {
	c := NewTTSClient(config.SpeechConfig{}, zerolog.Nop())
	if _, err := c.Synthesize(context.Background(), SynthesisRequest{Text: "hi"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

// fakeTTSServer 模拟单向流式合成接口：先回一帧音频，再回会话结束事件
func fakeTTSServer(t *testing.T, audio []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return
		}
		var req ttsRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.ReqParams.Text == "" {
			return
		}

		chunk := &Message{
			Header:   Header{Version: protocolVersion, Size: 1, Type: AudioOnlyServerResponse, Flags: PositiveSequenceNumber},
			Sequence: 1,
			Payload:  audio[:len(audio)/2],
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, chunk.Encode())

		body, _ := json.Marshal(map[string]any{
			"reqid": "req-1",
			"code":  3000,
			"data":  base64.StdEncoding.EncodeToString(audio[len(audio)/2:]),
		})
		final := &Message{
			Header:    Header{Version: protocolVersion, Size: 1, Type: FullServerResponse, Flags: WithEvent, Serialization: JSONSerialization},
			Event:     EventTypeSessionFinished,
			SessionID: "s",
			Payload:   body,
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, final.Encode())
	}))
}

func TestSynthesizeAgainstServer(t *testing.T) {
	audio := []byte("ID3-fake-mp3-audio")
	srv := fakeTTSServer(t, audio)
	defer srv.Close()

	c := NewTTSClient(config.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		Endpoint:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		TTSVoice:    "en_female_amy_jupiter_bigtts",
	}, zerolog.Nop())

	out, err := c.Synthesize(context.Background(), SynthesisRequest{Text: "You are doing great.", Language: "en-US"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(out.Audio, audio) {
		t.Fatalf("audio = %q, want %q", out.Audio, audio)
	}
	if out.RequestID != "req-1" {
		t.Errorf("request id = %q", out.RequestID)
	}
}
