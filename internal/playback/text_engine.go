package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// TextEngine 在没有语音合成时把朗读内容打印出来，并按字数估算朗读时长。
type TextEngine struct {
	Out io.Writer
	// PerWord 是语速为 1 时每个词的时长。
	PerWord time.Duration
}

var errCancelled = errors.New("narration cancelled")

func (e *TextEngine) Speak(_ context.Context, u Utterance) (Handle, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, errors.New("nothing to narrate")
	}
	if e.Out != nil {
		fmt.Fprintf(e.Out, "🔊 (%s, rate %.2f, pitch %.2f) %s\n", u.Lang, u.Voice.Rate, u.Voice.Pitch, u.Text)
	}

	perWord := e.PerWord
	if perWord <= 0 {
		perWord = 350 * time.Millisecond
	}
	rate := float64(u.Voice.Rate)
	if rate <= 0 {
		rate = 1
	}
	words := len(strings.Fields(u.Text))
	total := time.Duration(float64(time.Duration(words)*perWord) / rate)

	h := &timerHandle{done: make(chan error, 1), remaining: total}
	h.start()
	return h, nil
}

// timerHandle 用定时器模拟一次可暂停的朗读。
type timerHandle struct {
	mu        sync.Mutex
	timer     *time.Timer
	started   time.Time
	remaining time.Duration
	paused    bool
	finished  bool
	done      chan error
}

func (h *timerHandle) start() {
	h.started = time.Now()
	h.timer = time.AfterFunc(h.remaining, func() { h.finish(nil) })
}

func (h *timerHandle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.done <- err
	close(h.done)
}

func (h *timerHandle) Done() <-chan error { return h.done }

func (h *timerHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished || h.paused {
		return nil
	}
	if h.timer.Stop() {
		h.remaining -= time.Since(h.started)
	}
	h.paused = true
	return nil
}

func (h *timerHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished || !h.paused {
		return nil
	}
	h.paused = false
	h.start()
	return nil
}

func (h *timerHandle) Cancel() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.finish(errCancelled)
}
