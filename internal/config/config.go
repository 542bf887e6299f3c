package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合客户端与本地替身后端的全部配置项。
type Config struct {
	Client    ClientConfig
	Recording RecordingConfig
	Speech    SpeechConfig
	Server    ServerConfig
	AI        AIConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	recording, err := loadRecordingConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Client:    client,
		Recording: recording,
		Speech:    speech,
		Server:    server,
		AI:        ai,
		Log: LogConfig{
			Level:  getEnvOrDefault("MINDEASE_LOG_LEVEL", "info"),
			Format: getEnvOrDefault("MINDEASE_LOG_FORMAT", "console"),
		},
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

// ClientConfig 描述后端地址与本地持久化。
type ClientConfig struct {
	APIBaseURL  string
	StorePath   string
	Language    string
	HTTPTimeout time.Duration
	MergePolicy string
}

func loadClientConfig() (ClientConfig, error) {
	timeout, err := parseOptionalIntEnv("MINDEASE_HTTP_TIMEOUT")
	if err != nil {
		return ClientConfig{}, err
	}
	// 0 表示不设超时，与原有前端行为一致
	httpTimeout := time.Duration(0)
	if timeout != nil && *timeout > 0 {
		httpTimeout = time.Duration(*timeout) * time.Second
	}

	policy := strings.ToLower(getEnvOrDefault("MINDEASE_MERGE_POLICY", "text-sender-timestamp"))
	switch policy {
	case "text-sender-timestamp", "text-sender":
	default:
		return ClientConfig{}, fmt.Errorf("invalid MINDEASE_MERGE_POLICY value: %q", policy)
	}

	return ClientConfig{
		APIBaseURL:  strings.TrimRight(getEnvOrDefault("MINDEASE_API_URL", "http://127.0.0.1:5000"), "/"),
		StorePath:   getEnvOrDefault("MINDEASE_STORE_PATH", defaultStorePath()),
		Language:    getEnvOrDefault("MINDEASE_LANGUAGE", "en-US"),
		HTTPTimeout: httpTimeout,
		MergePolicy: policy,
	}, nil
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".", "data", "mindease.db")
	}
	return filepath.Join(dir, "mindease", "state.db")
}

// RecordingConfig 描述录音校验与转码参数。
type RecordingConfig struct {
	MinDuration    time.Duration
	MinBytes       int
	RecorderCmd    string
	FFmpegPath     string
	DecodeRate     int
	DecodeChannels int
}

func loadRecordingConfig() (RecordingConfig, error) {
	minBytes, err := parseOptionalIntEnv("MINDEASE_RECORDING_MIN_BYTES")
	if err != nil {
		return RecordingConfig{}, err
	}
	floor := 100
	if minBytes != nil && *minBytes > 0 {
		floor = *minBytes
	}

	rate, err := parseOptionalIntEnv("MINDEASE_DECODE_SAMPLE_RATE")
	if err != nil {
		return RecordingConfig{}, err
	}
	sampleRate := 48000
	if rate != nil && *rate > 0 {
		sampleRate = *rate
	}

	channels, err := parseOptionalIntEnv("MINDEASE_DECODE_CHANNELS")
	if err != nil {
		return RecordingConfig{}, err
	}
	numChannels := 1
	if channels != nil && *channels > 0 {
		numChannels = *channels
	}

	return RecordingConfig{
		MinDuration:    time.Second,
		MinBytes:       floor,
		RecorderCmd:    getEnvOrDefault("MINDEASE_RECORDER_CMD", "ffmpeg -loglevel quiet -f alsa -i default -c:a libopus -f webm pipe:1"),
		FFmpegPath:     getEnvOrDefault("MINDEASE_FFMPEG", "ffmpeg"),
		DecodeRate:     sampleRate,
		DecodeChannels: numChannels,
	}, nil
}

// SpeechConfig 描述朗读使用的语音合成服务
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	Endpoint    string
	TTSVoice    string
	// ASREndpoint 与 ASRConcurrent 只被替身后端的语音转写使用
	ASREndpoint   string
	ASRConcurrent bool
	TTSSpeed      float32
	TTSVolume     float32
	PlayerCmd     string
	Timeout       int
	Enabled       bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		AppID:         appID,
		AccessToken:   accessToken,
		APIKey:        apiKey,
		Endpoint:      getEnvOrDefault("SPEECH_TTS_ENDPOINT", "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"),
		TTSVoice:      getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		ASREndpoint:   getEnvOrDefault("SPEECH_ASR_ENDPOINT", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
		ASRConcurrent: concurrent,
		TTSSpeed:      ttsSpeed,
		TTSVolume:     ttsVolume,
		PlayerCmd:     getEnvOrDefault("MINDEASE_PLAYER_CMD", "ffplay -nodisp -autoexit -loglevel quiet -i pipe:0"),
		Timeout:       timeoutSeconds,
		Enabled:       appID != "" && accessToken != "",
	}, nil
}

// ServerConfig 描述本地替身后端的 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("MINDEASE_CORS_ORIGINS", "*"))
	cfg, err := loadServerAddr()
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.AllowedOrigins = origins
	return cfg, nil
}

func loadServerAddr() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述替身后端使用的大模型配置。
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	EmotionLLMEnabled   bool
	EmotionHistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	emotionHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			emotionHistory = 1
		} else {
			emotionHistory = *historyOverride
		}
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		EmotionLLMEnabled:   emotionEnabled,
		EmotionHistoryLimit: emotionHistory,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

// splitList 按逗号切分并去掉空项。
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
