package audio

import (
	"bytes"
	"sync"
)

// RecordingBuffer 累积一次录音的编码数据块。
type RecordingBuffer struct {
	mu     sync.Mutex
	format Format
	chunks [][]byte
	size   int
}

// NewRecordingBuffer 为指定容器格式创建空缓冲。
func NewRecordingBuffer(format Format) *RecordingBuffer {
	return &RecordingBuffer{format: format}
}

// Write 追加一个数据块，空块被忽略。
func (b *RecordingBuffer) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	b.size += len(chunk)
}

func (b *RecordingBuffer) Format() Format { return b.format }

// Chunks 返回非空数据块的数量。
func (b *RecordingBuffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size 返回累计字节数。
func (b *RecordingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Bytes 把所有数据块拼接为完整的编码文件。
func (b *RecordingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Join(b.chunks, nil)
}

// Discard 释放缓冲内容。
func (b *RecordingBuffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}
