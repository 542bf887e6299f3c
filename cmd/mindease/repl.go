package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/zhouzirui/mindease/client/internal/api"
	"github.com/zhouzirui/mindease/client/internal/audio"
	"github.com/zhouzirui/mindease/client/internal/chatlog"
	"github.com/zhouzirui/mindease/client/internal/playback"
	chatservice "github.com/zhouzirui/mindease/client/internal/service/chat"
	"github.com/zhouzirui/mindease/client/internal/service/speech"
)

const chatHelp = `Type a message and press Enter. Commands:
  /record         start recording, press Enter to stop
  /voice FILE     send an audio file
  /image FILE     share an image
  /play N         read message N aloud (again to pause or resume);
                  on a voice message, replay its recording
  /pause          pause or resume the current narration
  /lang CODE      switch language, e.g. en-US
  /selfhelp       show self-help resources for your latest mood
  /history        show the whole conversation
  /clear          clear the conversation
  /quit           leave`

func handleChat(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	narrate := fs.Bool("narrate", true, "read assistant replies aloud")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := newApp(stdout, stderr, *narrate)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer a.Close()
	if err := a.requireLogin(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.chat.Bootstrap(ctx); err != nil {
		return a.report(stderr, err)
	}

	fmt.Fprintln(stdout, a.chat.Greeting(time.Now()))
	printGroups(stdout, a.chat.Groups())
	fmt.Fprintln(stdout, "Type /help for commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r := &repl{app: a, out: stdout, lines: lines}
	defer r.stopClip()
	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			done, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				return a.report(stderr, err)
			}
			if done {
				return 0
			}
		}
	}
}

type repl struct {
	app   *app
	out   io.Writer
	lines <-chan string
	clip  speech.Stream
}

// handle 处理一行输入，返回 true 表示退出。只有未授权会作为错误返回。
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, func() error {
			_, err := r.app.chat.SendText(ctx, line)
			return err
		})
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/record":
		return false, r.record(ctx)
	case "/voice":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /voice FILE")
			return false, nil
		}
		return false, r.send(ctx, func() error { return r.app.sendVoiceFile(ctx, arg) })
	case "/image":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /image FILE")
			return false, nil
		}
		return false, r.send(ctx, func() error {
			_, err := r.app.chat.SendImage(ctx, arg)
			return err
		})
	case "/play":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			fmt.Fprintln(r.out, "usage: /play N")
			return false, nil
		}
		played, err := r.playRecording(ctx, n-1)
		if err != nil || played {
			return false, err
		}
		r.speak(ctx, n-1)
	case "/pause":
		if r.app.player == nil {
			fmt.Fprintln(r.out, "Narration is off.")
			return false, nil
		}
		state := r.app.player.State()
		if state.Kind == playback.Idle {
			fmt.Fprintln(r.out, "Nothing is playing.")
			return false, nil
		}
		r.speak(ctx, state.Index)
	case "/lang":
		if arg == "" {
			fmt.Fprintf(r.out, "Language: %s\n", r.app.chat.Language())
			return false, nil
		}
		r.app.chat.SetLanguage(arg)
		fmt.Fprintf(r.out, "Language set to %s.\n", arg)
	case "/selfhelp":
		printSelfHelp(r.out, r.app.chat.SelfHelp())
	case "/history":
		printGroups(r.out, r.app.chat.Groups())
	case "/clear":
		if err := r.app.chat.Clear(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Chat cleared.")
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false, nil
}

// send 执行一次发送并打印新增的消息。
func (r *repl) send(ctx context.Context, fn func() error) error {
	before := r.app.chatlog.Len()
	err := fn()
	printSince(r.out, r.app.chat.Messages(), before)
	if errors.Is(err, api.ErrUnauthorized) {
		return err
	}
	if err != nil {
		fmt.Fprintln(r.out, err.Error())
	}
	return nil
}

func (r *repl) speak(ctx context.Context, index int) {
	state, err := r.app.chat.Speak(ctx, index)
	if err != nil {
		fmt.Fprintln(r.out, err.Error())
		return
	}
	if state.Kind != playback.Idle {
		fmt.Fprintf(r.out, "%s message %d\n", state.Kind, state.Index+1)
	}
}

// playRecording 重放语音消息的录音；不是语音消息时返回 false，交给朗读处理。
func (r *repl) playRecording(ctx context.Context, index int) (bool, error) {
	data, err := r.app.chat.Recording(ctx, index)
	switch {
	case errors.Is(err, chatservice.ErrNoRecording), errors.Is(err, chatlog.ErrMessageNotFound):
		return false, nil
	case errors.Is(err, api.ErrUnauthorized):
		return true, err
	case err != nil:
		fmt.Fprintln(r.out, "Could not load the recording. Please try again.")
		r.app.logger.Debug().Err(err).Int("index", index).Msg("load recording")
		return true, nil
	}

	r.stopClip()
	stream, err := r.app.clips.Play(ctx, data)
	if err != nil {
		fmt.Fprintln(r.out, "Could not play the recording.")
		r.app.logger.Debug().Err(err).Msg("play recording")
		return true, nil
	}
	r.clip = stream
	fmt.Fprintf(r.out, "Playing recording %d.\n", index+1)
	return true, nil
}

func (r *repl) stopClip() {
	if r.clip != nil {
		r.clip.Stop()
		r.clip = nil
	}
}

// record 开始录音，收到下一行输入后停止并上传。
func (r *repl) record(ctx context.Context) error {
	rec := r.app.recorder
	if startErr := rec.Start(ctx); startErr != nil {
		if errors.Is(startErr, audio.ErrBusy) {
			fmt.Fprintln(r.out, "A recording is already in progress.")
			return nil
		}
		return r.send(ctx, func() error {
			_, err := r.app.chat.ReportRecordingFailure(startErr)
			return err
		})
	}
	fmt.Fprintln(r.out, "● Recording... press Enter to stop.")

	ticks := rec.Ticks()
	for {
		select {
		case <-ctx.Done():
			_, _ = rec.Stop(context.Background())
			return nil
		case d, ok := <-ticks:
			if ok {
				fmt.Fprintf(r.out, "\r● %s", audio.FormatElapsed(d))
				continue
			}
			ticks = nil
		case <-r.lines:
			fmt.Fprintln(r.out)
			return r.send(ctx, func() error {
				recording, err := rec.Stop(ctx)
				if err != nil {
					_, err = r.app.chat.ReportRecordingFailure(err)
					return err
				}
				_, err = r.app.chat.SendVoice(ctx, recording)
				return err
			})
		}
	}
}
