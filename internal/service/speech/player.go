package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// Stream 是一次进行中的音频播放。
type Stream interface {
	Done() <-chan error
	Pause() error
	Resume() error
	Stop()
}

// Player 播放一段编码后的音频。
type Player interface {
	Play(ctx context.Context, audio []byte) (Stream, error)
}

// CommandPlayer 把音频写入外部播放器（如 ffplay）的标准输入，通过信号暂停与恢复。
type CommandPlayer struct {
	Argv []string
}

func (p *CommandPlayer) Play(_ context.Context, audio []byte) (Stream, error) {
	if len(p.Argv) == 0 {
		return nil, errors.New("no player command configured")
	}
	cmd := exec.Command(p.Argv[0], p.Argv[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}

	s := &processStream{cmd: cmd, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		if s.stopped {
			err = nil
		}
		s.mu.Unlock()
		s.done <- err
		close(s.done)
	}()
	return s, nil
}

type processStream struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
	done    chan error
}

func (s *processStream) Done() <-chan error { return s.done }

func (s *processStream) Pause() error {
	return suspendProcess(s.cmd.Process)
}

func (s *processStream) Resume() error {
	return resumeProcess(s.cmd.Process)
}

func (s *processStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	// 已暂停的进程需要先恢复才能收到 kill 之外的信号，这里直接 kill
	_ = s.cmd.Process.Kill()
}
