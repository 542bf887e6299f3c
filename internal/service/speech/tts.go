// Package speech 是火山引擎语音合成客户端，为消息朗读提供声音。
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/config"
)

const defaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// gzipThreshold 以上的请求体压缩后发送
const gzipThreshold = 2048

// ErrNotConfigured 表示缺少 AppID 或 AccessToken。
var ErrNotConfigured = errors.New("speech: volcengine credentials missing")

// SynthesisRequest 一次合成请求
type SynthesisRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
	Pitch    float32
	Volume   float32
	Mood     mood.Decision
}

// Synthesis 合成结果
type Synthesis struct {
	Audio     []byte
	Format    string
	Duration  time.Duration
	RequestID string
}

// TTSClient 火山引擎 TTS WebSocket 客户端
type TTSClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewTTSClient 创建客户端
func NewTTSClient(cfg config.SpeechConfig, logger zerolog.Logger) *TTSClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TTSClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
		log:    logger.With().Str("component", "tts").Logger(),
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format       string  `json:"format"`
	SampleRate   int     `json:"sample_rate"`
	SpeedRatio   float32 `json:"speed_ratio,omitempty"`
	VolumeRatio  float32 `json:"volume_ratio,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotion_scale,omitempty"`
}

func (c *TTSClient) credentials() (string, string, error) {
	appID := strings.TrimSpace(c.cfg.AppID)
	token := strings.TrimSpace(c.cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrNotConfigured
	}
	return appID, token, nil
}

// Synthesize 合成一段 mp3 音频。资源 ID 与音色不匹配时依次尝试候选组合。
func (c *TTSClient) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("tts text is empty")
	}
	appKey, accessKey, err := c.credentials()
	if err != nil {
		return nil, err
	}

	var lastMismatch error
	for _, speaker := range speakerCandidates(req.Voice, c.cfg.TTSVoice, req.Language) {
		for i, resourceID := range resourceCandidates(speaker) {
			out, err := c.synthesizeWith(ctx, req, appKey, accessKey, speaker, resourceID)
			if err == nil {
				if i > 0 {
					c.log.Info().Str("voice", speaker).Str("resource", resourceID).Msg("fallback resource succeeded")
				}
				return out, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			c.log.Warn().Err(err).Str("voice", speaker).Str("resource", resourceID).Msg("resource mismatch")
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, errors.New("tts synthesis failed: no usable voice")
}

func (c *TTSClient) endpoint() string {
	if ep := strings.TrimSpace(c.cfg.Endpoint); ep != "" {
		return ep
	}
	return defaultEndpoint
}

func (c *TTSClient) synthesizeWith(ctx context.Context, req SynthesisRequest, appKey, accessKey, speaker, resourceID string) (*Synthesis, error) {
	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(), header)
	if err != nil {
		return nil, fmt.Errorf("connect tts websocket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.log.Debug().Str("logid", logid).Msg("connected")
		}
	}

	// 取消时关闭连接以打断阻塞的读取
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	compression := NoCompression
	if len(payload) > gzipThreshold {
		if payload, err = gzipBytes(payload); err != nil {
			return nil, err
		}
		compression = GzipCompression
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewFullClientRequest(payload, compression).Encode()); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration time.Duration
	)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read tts response: %w", err)
		}
		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}
		body, err := msg.PayloadBytes()
		if err != nil {
			return nil, fmt.Errorf("decompress tts frame: %w", err)
		}

		switch msg.Header.Type {
		case ErrorMessage:
			return nil, fmt.Errorf("tts error %d: %s", msg.ErrorCode, body)

		case AudioOnlyServerResponse:
			audio.Write(body)

		case FullServerResponse:
			var sm ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &sm); err != nil {
					c.log.Debug().Err(err).Msg("unparsable tts payload")
				} else {
					// 3000 为成功
					if sm.Code != 0 && sm.Code != 3000 {
						return nil, fmt.Errorf("tts api error %d: %s", sm.Code, sm.Message)
					}
					if sm.ReqID != "" {
						reqID = sm.ReqID
					}
					if ms, err := strconv.ParseInt(sm.Addition.Duration, 10, 64); err == nil {
						duration = time.Duration(ms) * time.Millisecond
					}
					if sm.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(sm.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (msg.hasEvent() && msg.Event == EventTypeSessionFinished) || msg.IsLastPacket() || sm.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errors.New("tts audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			return &Synthesis{Audio: audio.Bytes(), Format: "mp3", Duration: duration, RequestID: reqID}, nil

		default:
			c.log.Debug().Uint8("type", uint8(msg.Header.Type)).Msg("unexpected tts frame")
		}
	}
}

func (c *TTSClient) buildRequest(req SynthesisRequest, speaker string) *ttsRequest {
	out := &ttsRequest{}
	out.User.UID = uuid.NewString()
	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.Language = ttsLanguage(req.Language)
	out.ReqParams.AudioParams.Format = "mp3"
	out.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed * nonZero(c.cfg.TTSSpeed)
	if speed > 0 && speed != 1 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}
	volume := req.Volume
	if volume <= 0 {
		volume = c.cfg.TTSVolume
	}
	if volume > 0 && volume != 1 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}

	if ok, label, scale := ComputeEmotionParameters(speaker, req.Mood); ok {
		out.ReqParams.AudioParams.Emotion = label
		out.ReqParams.AudioParams.EmotionScale = scale
	}

	out.ReqParams.Additions = buildAdditions(req.Pitch)
	return out
}

func nonZero(v float32) float32 {
	if v <= 0 {
		return 1
	}
	return v
}

// pitchSemitones 把音调倍率换算为半音，范围 [-12, 12]
func pitchSemitones(ratio float32) int {
	if ratio <= 0 || ratio == 1 {
		return 0
	}
	st := int(math.Round(12 * math.Log2(float64(ratio))))
	return max(-12, min(12, st))
}

func buildAdditions(pitch float32) string {
	additions := map[string]any{"disable_markdown_filter": false}
	if st := pitchSemitones(pitch); st != 0 {
		additions["post_process"] = map[string]int{"pitch": st}
	}
	data, err := json.Marshal(additions)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ttsLanguage 把 BCP-47 语言代码转换为合成接口的 explicit_language 取值
func ttsLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch {
	case lang == "":
		return ""
	case strings.HasPrefix(lang, "en"):
		return "en"
	case strings.HasPrefix(lang, "zh"):
		return "zh-cn"
	default:
		return strings.SplitN(lang, "-", 2)[0]
	}
}

func resourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}
	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// languageVoices 在未指定音色时按语言挑选默认音色
var languageVoices = map[string]string{
	"en": "en_female_amy_jupiter_bigtts",
	"zh": "zh_female_vv_uranus_bigtts",
}

func speakerCandidates(requested, fallback, lang string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}

	add(requested)
	add(fallback)
	if lang != "" {
		add(languageVoices[strings.SplitN(strings.ToLower(lang), "-", 2)[0]])
	}
	if len(out) == 0 {
		add(languageVoices["en"])
	}
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
