package speech

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/playback"
)

// ErrCancelled 表示朗读在结束前被取消。
var ErrCancelled = errors.New("speech: narration cancelled")

// Synthesizer 把文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error)
}

// Narrator 先合成再播放，实现朗读引擎。
type Narrator struct {
	tts    Synthesizer
	player Player
	voice  string
	log    zerolog.Logger
}

// NewNarrator 创建朗读引擎，voice 为空时按语言选择默认音色。
func NewNarrator(tts Synthesizer, player Player, voice string, logger zerolog.Logger) *Narrator {
	return &Narrator{
		tts:    tts,
		player: player,
		voice:  voice,
		log:    logger.With().Str("component", "narrator").Logger(),
	}
}

// Speak 立即返回，合成与播放在后台进行。
func (n *Narrator) Speak(ctx context.Context, u playback.Utterance) (playback.Handle, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &narration{cancel: cancel, done: make(chan error, 1)}
	go h.run(runCtx, n, u)
	return h, nil
}

type narration struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	stream Stream
	paused bool
	done   chan error
}

func (h *narration) run(ctx context.Context, n *Narrator, u playback.Utterance) {
	err := h.play(ctx, n, u)
	if ctx.Err() != nil {
		err = ErrCancelled
	}
	if err != nil && !errors.Is(err, ErrCancelled) {
		n.log.Warn().Err(err).Msg("narration failed")
	}
	h.done <- err
	close(h.done)
}

func (h *narration) play(ctx context.Context, n *Narrator, u playback.Utterance) error {
	decision := mood.Decision{Label: u.Mood}
	if u.Mood != "" && u.Mood != mood.Neutral {
		decision.Score = 1
	}
	synth, err := n.tts.Synthesize(ctx, SynthesisRequest{
		Text:     u.Text,
		Voice:    n.voice,
		Language: u.Lang,
		Speed:    u.Voice.Rate,
		Pitch:    u.Voice.Pitch,
		Mood:     decision,
	})
	if err != nil {
		return err
	}

	stream, err := n.player.Play(ctx, synth.Audio)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.stream = stream
	paused := h.paused
	h.mu.Unlock()
	if paused {
		// 合成期间用户已按下暂停
		if err := stream.Pause(); err != nil {
			n.log.Debug().Err(err).Msg("pause before playback")
		}
	}

	select {
	case err := <-stream.Done():
		return err
	case <-ctx.Done():
		stream.Stop()
		<-stream.Done()
		return ErrCancelled
	}
}

func (h *narration) Done() <-chan error { return h.done }

func (h *narration) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	if h.stream != nil {
		return h.stream.Pause()
	}
	return nil
}

func (h *narration) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	if h.stream != nil {
		return h.stream.Resume()
	}
	return nil
}

func (h *narration) Cancel() {
	h.cancel()
}
