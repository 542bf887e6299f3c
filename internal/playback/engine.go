package playback

import (
	"context"

	"github.com/zhouzirui/mindease/client/internal/analysis/mood"
)

// Utterance 是一次朗读请求。
type Utterance struct {
	Text  string
	Lang  string
	Mood  mood.Label
	Voice mood.Voice
}

// Handle 控制一次进行中的朗读。
type Handle interface {
	// Done 在朗读自然结束、出错或被取消后收到一个值并关闭。
	Done() <-chan error
	Pause() error
	Resume() error
	Cancel()
}

// Engine 把文本变成声音。Speak 应尽快返回，实际播放在后台进行。
type Engine interface {
	Speak(ctx context.Context, u Utterance) (Handle, error)
}
