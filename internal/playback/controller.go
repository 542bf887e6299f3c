// Package playback 保证同一时刻只有一条消息在朗读。
package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
)

// Kind 是控制器状态。
type Kind int

const (
	Idle Kind = iota
	Speaking
	Paused
)

func (k Kind) String() string {
	switch k {
	case Speaking:
		return "speaking"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// State 是当前状态以及正在朗读的消息下标；Idle 时 Index 为 -1。
type State struct {
	Kind  Kind
	Index int
}

// Request 请求切换第 Index 条消息的朗读状态。
type Request struct {
	Index int
	Text  string
	Mood  string
	Lang  string
}

// Controller 是朗读状态机。所有转换都经过 Toggle。
type Controller struct {
	mu      sync.Mutex
	engine  Engine
	lang    string
	state   State
	current Handle
	gen     uint64
	log     zerolog.Logger
}

// NewController 创建控制器。
func NewController(engine Engine, lang string, logger zerolog.Logger) *Controller {
	return &Controller{
		engine: engine,
		lang:   lang,
		state:  State{Kind: Idle, Index: -1},
		log:    logger.With().Str("component", "playback").Logger(),
	}
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Language 返回朗读语言。
func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Toggle 对同一条消息在朗读与暂停间切换；对另一条消息则先取消当前朗读再开始新的。
func (c *Controller) Toggle(ctx context.Context, req Request) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Kind != Idle && c.state.Index == req.Index && c.current != nil {
		switch c.state.Kind {
		case Speaking:
			if err := c.current.Pause(); err != nil {
				return c.state, fmt.Errorf("pause: %w", err)
			}
			c.state.Kind = Paused
		case Paused:
			if err := c.current.Resume(); err != nil {
				return c.state, fmt.Errorf("resume: %w", err)
			}
			c.state.Kind = Speaking
		}
		return c.state, nil
	}

	c.cancelLocked()

	lang := req.Lang
	if lang == "" {
		lang = c.lang
	}
	handle, err := c.engine.Speak(ctx, Utterance{
		Text:  req.Text,
		Lang:  lang,
		Mood:  mood.ParseLabel(req.Mood),
		Voice: mood.VoiceFor(req.Mood),
	})
	if err != nil {
		return c.state, fmt.Errorf("speak: %w", err)
	}

	c.gen++
	c.current = handle
	c.state = State{Kind: Speaking, Index: req.Index}
	go c.watch(c.gen, req.Index, handle)
	return c.state, nil
}

// watch 等待朗读结束；被取代的朗读结束时不改变状态。
func (c *Controller) watch(gen uint64, index int, h Handle) {
	err := <-h.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Int("index", index).Msg("narration ended with error")
	}
	c.current = nil
	c.state = State{Kind: Idle, Index: -1}
}

// SetLanguage 切换朗读语言并取消当前朗读。
func (c *Controller) SetLanguage(lang string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.lang = lang
}

// Stop 取消当前朗读。
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Controller) cancelLocked() {
	if c.current != nil {
		c.current.Cancel()
		c.current = nil
	}
	c.gen++
	c.state = State{Kind: Idle, Index: -1}
}
