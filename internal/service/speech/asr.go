package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/config"
)

const (
	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"
	// 每包约 200ms 的 16kHz 16bit 单声道音频
	asrChunkSize = 6400
)

// Transcription 是一段录音的识别结果。
type Transcription struct {
	Text     string
	Duration time.Duration
}

// ASRClient 火山引擎大模型语音识别 WebSocket 客户端
type ASRClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
	log    zerolog.Logger
	// pace 是两包音频之间的发送间隔，模拟实时音频流
	pace time.Duration
}

// NewASRClient 创建识别客户端
func NewASRClient(cfg config.SpeechConfig, logger zerolog.Logger) *ASRClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ASRClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
		log:    logger.With().Str("component", "asr").Logger(),
		pace:   200 * time.Millisecond,
	}
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info,omitempty"`
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

func (c *ASRClient) credentials() (string, string, error) {
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

// Transcribe 把一段 WAV 录音发送给识别服务并返回最终文本
func (c *ASRClient) Transcribe(ctx context.Context, wav []byte, language string) (*Transcription, error) {
	if len(wav) == 0 {
		return nil, errors.New("no audio data to send")
	}
	appKey, accessKey, err := c.credentials()
	if err != nil {
		return nil, err
	}

	resourceID := asrResourceDuration
	if c.cfg.ASRConcurrent {
		resourceID = asrResourceConcurrent
	}
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.ASREndpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect asr websocket: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.log.Debug().Str("logid", logid).Msg("connected")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(buildASRRequest(wav, language, connectID))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	if payload, err = gzipBytes(payload); err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewFullClientRequest(payload, GzipCompression).Encode()); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	// 边发边收，服务端提前报错时可以及时停止发送
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- c.sendAudio(ctx, conn, wav)
	}()

	result, err := c.receive(ctx, conn)
	if err != nil {
		cancel()
		if sErr := <-sendErr; sErr != nil && !errors.Is(sErr, context.Canceled) {
			c.log.Debug().Err(sErr).Msg("send interrupted")
		}
		return nil, err
	}
	return result, nil
}

// buildASRRequest 从 WAV 头读取采样参数，无法解析时按 16kHz 单声道处理
func buildASRRequest(wav []byte, language, uid string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid
	req.Audio.Format = "wav"
	req.Audio.Codec = "raw"
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = "en-US"
	}
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	if probe, err := (audio.WAVProber{}).Probe(wav); err == nil {
		req.Audio.Rate = probe.SampleRate
		req.Audio.Channel = probe.Channels
	}

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	// FullClientRequest 占用序号 1，音频从 2 开始
	sequence := int32(2)
	for i := 0; i < len(data); i += asrChunkSize {
		end := min(i+asrChunkSize, len(data))
		last := end >= len(data)

		chunk, err := gzipBytes(data[i:end])
		if err != nil {
			return err
		}
		frame := NewAudioOnlyRequest(chunk, sequence, last, GzipCompression).Encode()
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("send audio chunk: %w", err)
		}
		sequence++
		if last {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pace):
		}
	}
	return nil
}

func (c *ASRClient) receive(ctx context.Context, conn *websocket.Conn) (*Transcription, error) {
	var out Transcription
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read asr response: %w", err)
		}
		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode asr frame: %w", err)
		}
		body, err := msg.PayloadBytes()
		if err != nil {
			return nil, fmt.Errorf("decompress asr frame: %w", err)
		}

		switch msg.Header.Type {
		case ErrorMessage:
			return nil, fmt.Errorf("asr error %d: %s", msg.ErrorCode, body)

		case FullServerResponse:
			var sm asrServerMessage
			if err := json.Unmarshal(body, &sm); err != nil {
				c.log.Debug().Err(err).Msg("unparsable asr payload")
				continue
			}
			// 20000000 为成功
			if sm.Code != 0 && sm.Code != 20000000 {
				return nil, fmt.Errorf("asr api error %d: %s", sm.Code, sm.Message)
			}

			text := sm.Result.Text
			if text == "" {
				parts := make([]string, 0, len(sm.Result.Utterances))
				for _, u := range sm.Result.Utterances {
					parts = append(parts, u.Text)
				}
				text = strings.Join(parts, " ")
			}
			if strings.TrimSpace(text) != "" {
				out.Text = strings.TrimSpace(text)
			}
			if sm.AudioInfo.Duration > 0 {
				out.Duration = time.Duration(sm.AudioInfo.Duration) * time.Millisecond
			}

			if msg.IsLastPacket() || sm.Sequence < 0 {
				return &out, nil
			}

		default:
			// 音频 ACK 等其他帧忽略
		}
	}
}
