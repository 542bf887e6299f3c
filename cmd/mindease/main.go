package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/chatlog"
	"github.com/zhouzirui/mindease/client/internal/config"
	"github.com/zhouzirui/mindease/client/internal/kvstore"
	"github.com/zhouzirui/mindease/client/internal/observability"
	"github.com/zhouzirui/mindease/client/internal/playback"
	chatservice "github.com/zhouzirui/mindease/client/internal/service/chat"
	"github.com/zhouzirui/mindease/client/internal/service/speech"
	"github.com/zhouzirui/mindease/client/internal/session"
)

func main() {
	_ = godotenv.Load()
	exitFn(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// errNotLoggedIn 表示本地没有保存令牌。
var errNotLoggedIn = errors.New("not logged in, run `mindease login` first")

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	cmd, rest := args[1], args[2:]
	handler, ok := commands[cmd]
	if !ok {
		usage(stderr)
		return 2
	}
	return handler(rest, stdin, stdout, stderr)
}

type command func(args []string, stdin io.Reader, stdout, stderr io.Writer) int

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":    handleLogin,
		"register": handleRegister,
		"logout":   handleLogout,
		"whoami":   handleWhoami,
		"chat":     handleChat,
		"send":     handleSend,
		"voice":    handleVoice,
		"history":  handleHistory,
		"moods":    handleMoods,
		"clear":    handleClear,
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mindease login [--email E] [--password P]")
	fmt.Fprintln(w, "  mindease register --name N --email E --password P [--dob YYYY-MM-DD] [--gender G]")
	fmt.Fprintln(w, "  mindease logout")
	fmt.Fprintln(w, "  mindease whoami")
	fmt.Fprintln(w, "  mindease chat [--narrate]")
	fmt.Fprintln(w, "  mindease send <text>")
	fmt.Fprintln(w, "  mindease voice <file>")
	fmt.Fprintln(w, "  mindease history [--search Q] [--sort asc|desc] [--by-session]")
	fmt.Fprintln(w, "  mindease history --sessions | --delete SESSION")
	fmt.Fprintln(w, "  mindease moods")
	fmt.Fprintln(w, "  mindease clear")
}

// app 持有一次命令执行期间的全部依赖。
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *kvstore.SQLite
	client   *api.Client
	sessions *session.Coordinator
	chatlog  *chatlog.Log
	player   *playback.Controller
	clips    speech.Player
	chat     *chatservice.Service
	pipeline *audio.Pipeline
	recorder *audio.Recorder
	expired  bool
}

// newApp 组装客户端。narrate 为 false 时不朗读助手回复。
func newApp(stdout, stderr io.Writer, narrate bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := observability.Setup(stderr, observability.Format(cfg.Log.Format), cfg.Log.Level)

	store, err := kvstore.OpenSQLite(cfg.Client.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store}
	a.client = api.New(cfg.Client.APIBaseURL, store, api.Options{
		Timeout:        cfg.Client.HTTPTimeout,
		OnUnauthorized: func() { a.expired = true },
		Logger:         &logger,
	})
	a.sessions = session.NewCoordinator(a.client, store, logger)

	a.chatlog, err = chatlog.Open(store, chatlog.Options{
		Policy: chatlog.ParseMergeKey(cfg.Client.MergePolicy),
		Logger: observability.Component("chatlog"),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open chat log: %w", err)
	}

	a.clips = &speech.CommandPlayer{Argv: strings.Fields(cfg.Speech.PlayerCmd)}
	if narrate {
		a.player = playback.NewController(narrationEngine(cfg, stdout), cfg.Client.Language, logger)
	}

	a.chat = chatservice.NewService(a.client, a.sessions, a.chatlog, store, a.player, chatservice.Options{
		Language: cfg.Client.Language,
		Logger:   logger,
	})

	a.pipeline = &audio.Pipeline{
		MinDuration: cfg.Recording.MinDuration,
		MinBytes:    cfg.Recording.MinBytes,
		Decoders: audio.DefaultRegistry(&audio.FFmpegDecoder{
			Path:       cfg.Recording.FFmpegPath,
			SampleRate: cfg.Recording.DecodeRate,
			Channels:   cfg.Recording.DecodeChannels,
		}),
		Prober: audio.WAVProber{},
		Log:    observability.Component("audio"),
	}
	a.recorder = audio.NewRecorder(&audio.CommandSource{
		Argv:      strings.Fields(cfg.Recording.RecorderCmd),
		Container: audio.FormatWebM,
	}, a.pipeline)
	return a, nil
}

// narrationEngine 有语音凭证时合成并播放，否则把朗读内容打印出来。
func narrationEngine(cfg *config.Config, stdout io.Writer) playback.Engine {
	if !cfg.Speech.Enabled {
		return &playback.TextEngine{Out: stdout, PerWord: 250 * time.Millisecond}
	}
	tts := speech.NewTTSClient(cfg.Speech, observability.Component("tts"))
	player := &speech.CommandPlayer{Argv: strings.Fields(cfg.Speech.PlayerCmd)}
	return speech.NewNarrator(tts, player, cfg.Speech.TTSVoice, observability.Component("narrator"))
}

func (a *app) Close() {
	if a.player != nil {
		a.player.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close store")
	}
}

func (a *app) requireLogin() error {
	if a.client.Token() == "" {
		return errNotLoggedIn
	}
	return nil
}

// report 打印错误并返回退出码；令牌失效时提示重新登录。
func (a *app) report(stderr io.Writer, err error) int {
	if errors.Is(err, api.ErrUnauthorized) || a.expired {
		fmt.Fprintln(stderr, "Your session has expired. Please log in again with `mindease login`.")
		return 1
	}
	fmt.Fprintln(stderr, err.Error())
	return 1
}
