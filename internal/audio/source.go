package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Source 抽象麦克风。
type Source interface {
	// Permission 在开始录音前检查权限，拒绝时返回 ErrPermissionDenied。
	Permission(ctx context.Context) error
	Open(ctx context.Context) (Capture, error)
}

// Capture 是一次进行中的采集。
type Capture interface {
	// Chunks 在采集结束后关闭。
	Chunks() <-chan []byte
	Stop() error
	Format() Format
}

// CommandSource 读取外部录音进程（例如 ffmpeg -f alsa）的标准输出。
type CommandSource struct {
	Argv      []string
	Container Format
	ChunkSize int
}

func (s *CommandSource) Permission(context.Context) error {
	if len(s.Argv) == 0 {
		return fmt.Errorf("%w: no recorder command configured", ErrPermissionDenied)
	}
	if _, err := exec.LookPath(s.Argv[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

func (s *CommandSource) Open(ctx context.Context) (Capture, error) {
	if err := s.Permission(ctx); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.Argv[0], s.Argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	size := s.ChunkSize
	if size <= 0 {
		size = 4096
	}
	format := s.Container
	if format == FormatUnknown {
		format = FormatWebM
	}

	c := &commandCapture{
		cmd:    cmd,
		format: format,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go c.pump(stdout, size)
	return c, nil
}

type commandCapture struct {
	cmd      *exec.Cmd
	format   Format
	chunks   chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func (c *commandCapture) pump(r io.Reader, size int) {
	defer close(c.done)
	defer close(c.chunks)
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			c.chunks <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

func (c *commandCapture) Chunks() <-chan []byte { return c.chunks }

func (c *commandCapture) Format() Format { return c.format }

// Stop 先发送中断让录音进程写完容器尾部，超时后强制结束。
func (c *commandCapture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if sigErr := c.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			_ = c.cmd.Process.Kill()
		}
		select {
		case <-c.done:
		case <-time.After(3 * time.Second):
			_ = c.cmd.Process.Kill()
			<-c.done
		}
		if waitErr := c.cmd.Wait(); waitErr != nil {
			var exitErr *exec.ExitError
			// 被中断的录音进程以非零状态退出属于正常情况
			if !errors.As(waitErr, &exitErr) {
				err = waitErr
			}
		}
	})
	return err
}
