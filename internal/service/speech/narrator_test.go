package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
	"github.com/zhouzirui/mindease/client/internal/playback"
)

type stubSynth struct {
	mu   sync.Mutex
	reqs []SynthesisRequest
	gate chan struct{}
}

func (s *stubSynth) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Synthesis{Audio: []byte("mp3"), Format: "mp3"}, nil
}

type stubStream struct {
	mu      sync.Mutex
	done    chan error
	paused  bool
	stopped bool
}

func (s *stubStream) Done() <-chan error { return s.done }
func (s *stubStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}
func (s *stubStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}
func (s *stubStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
}

type stubPlayer struct {
	streams chan *stubStream
}

func (p *stubPlayer) Play(context.Context, []byte) (Stream, error) {
	s := &stubStream{done: make(chan error, 1)}
	p.streams <- s
	return s, nil
}

func TestNarratorPassesVoiceParameters(t *testing.T) {
	synth := &stubSynth{}
	player := &stubPlayer{streams: make(chan *stubStream, 1)}
	n := NewNarrator(synth, player, "en_male_glen_emo_v2_mars_bigtts", zerolog.Nop())

	h, err := n.Speak(context.Background(), playback.Utterance{
		Text:  "Take a deep breath.",
		Lang:  "en-US",
		Mood:  mood.Stressed,
		Voice: mood.VoiceFor("Stressed"),
	})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}

	stream := <-player.streams
	stream.done <- nil
	if err := <-h.Done(); err != nil {
		t.Fatalf("done: %v", err)
	}

	req := synth.reqs[0]
	if req.Speed != 0.85 || req.Pitch != 0.95 || req.Mood.Label != mood.Stressed {
		t.Fatalf("request = %+v", req)
	}
}

func TestNarratorPauseBeforePlaybackStarts(t *testing.T) {
	synth := &stubSynth{gate: make(chan struct{})}
	player := &stubPlayer{streams: make(chan *stubStream, 1)}
	n := NewNarrator(synth, player, "", zerolog.Nop())

	h, _ := n.Speak(context.Background(), playback.Utterance{Text: "hello"})
	if err := h.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	close(synth.gate)

	stream := <-player.streams
	deadline := time.Now().Add(time.Second)
	for {
		stream.mu.Lock()
		paused := stream.paused
		stream.mu.Unlock()
		if paused {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream was not paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Cancel()
	if err := <-h.Done(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("done = %v, want ErrCancelled", err)
	}
}

func TestNarratorCancelDuringSynthesis(t *testing.T) {
	synth := &stubSynth{gate: make(chan struct{})}
	n := NewNarrator(synth, &stubPlayer{streams: make(chan *stubStream, 1)}, "", zerolog.Nop())

	h, _ := n.Speak(context.Background(), playback.Utterance{Text: "hello"})
	h.Cancel()
	select {
	case err := <-h.Done():
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("done = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not stop narration")
	}
}
