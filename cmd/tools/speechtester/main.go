package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/config"
	"github.com/zhouzirui/mindease/client/internal/observability"
	"github.com/zhouzirui/mindease/client/internal/service/speech"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径 (任意可解码格式，会先转成 WAV)")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	language := flag.String("lang", "en-US", "语言代码")
	voice := flag.String("voice", "", "TTS 音色，默认使用配置中的 SPEECH_TTS_VOICE")
	moodLabel := flag.String("mood", "", "TTS 情绪，如 Happy、Sad")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	logger := observability.Setup(os.Stderr, observability.FormatConsole, cfg.Log.Level)

	if !cfg.Speech.Enabled {
		logger.Fatal().Msg("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}
	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		logger.Fatal().Msg("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		if err := runASR(ctx, cfg, *audioPath, *language); err != nil {
			logger.Fatal().Err(err).Msg("ASR 测试失败")
		}
	case "tts":
		if err := runTTS(ctx, cfg, *text, *voice, *language, *moodLabel, *outputPath); err != nil {
			logger.Fatal().Err(err).Msg("TTS 测试失败")
		}
	}
}

func runASR(ctx context.Context, cfg *config.Config, audioPath, language string) error {
	if audioPath == "" {
		return fmt.Errorf("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	pipeline := &audio.Pipeline{
		MinDuration: cfg.Recording.MinDuration,
		MinBytes:    cfg.Recording.MinBytes,
		Decoders: audio.DefaultRegistry(&audio.FFmpegDecoder{
			Path: cfg.Recording.FFmpegPath,
			// 识别服务期望 16k 单声道
			SampleRate: 16000,
			Channels:   1,
		}),
		Prober: audio.WAVProber{},
		Log:    observability.Component("audio"),
	}
	rec, err := pipeline.LoadFile(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("音频校验失败: %w", err)
	}

	log := observability.Logger()
	log.Info().Str("file", audioPath).Dur("duration", rec.Duration).Int("sample_rate", rec.SampleRate).Msg("开始进行 ASR 测试")

	client := speech.NewASRClient(cfg.Speech, observability.Component("asr"))
	out, err := client.Transcribe(ctx, rec.WAV, language)
	if err != nil {
		return fmt.Errorf("ASR 调用失败: %w", err)
	}
	log.Info().Str("text", out.Text).Dur("duration", out.Duration).Msg("ASR 识别成功")
	return nil
}

func runTTS(ctx context.Context, cfg *config.Config, text, voice, language, moodLabel, outputPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("TTS 模式需要通过 -text 提供待合成文本")
	}
	if voice == "" {
		voice = cfg.Speech.TTSVoice
	}

	req := speech.SynthesisRequest{
		Text:     text,
		Voice:    voice,
		Language: language,
		Speed:    cfg.Speech.TTSSpeed,
		Volume:   cfg.Speech.TTSVolume,
	}
	if moodLabel != "" {
		label := mood.ParseLabel(moodLabel)
		req.Mood = mood.Decision{Label: label, Scale: 3}
		req.Pitch = mood.VoiceFor(string(label)).Pitch
	}

	log := observability.Logger()
	log.Info().Str("voice", voice).Str("lang", language).Msg("开始进行 TTS 测试")

	client := speech.NewTTSClient(cfg.Speech, observability.Component("tts"))
	out, err := client.Synthesize(ctx, req)
	if err != nil {
		return fmt.Errorf("TTS 调用失败: %w", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), out.Format)
	}
	if err := os.WriteFile(outputPath, out.Audio, 0o644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}
	log.Info().Str("file", outputPath).Dur("duration", out.Duration).Msg("TTS 合成成功")
	return nil
}
