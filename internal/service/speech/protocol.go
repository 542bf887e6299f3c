package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// protocolVersion 是火山引擎 WebSocket 二进制协议版本
const protocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 描述 header 之后是否跟随序号与事件
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件
type EventType int32

const (
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// Serialization 负载序列化方式
type Serialization uint8

const (
	NoSerialization   Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression 负载压缩方式
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// Header 是 4 字节消息头，每个字段占 4 位
type Header struct {
	Version       uint8
	Size          uint8
	Type          MessageType
	Flags         MessageFlags
	Serialization Serialization
	Compression   Compression
}

// Message 一帧完整消息
type Message struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func (h Header) encode() []byte {
	return []byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(b))
	}
	h := Header{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		Type:          MessageType(b[1] >> 4),
		Flags:         MessageFlags(b[1] & 0x0F),
		Serialization: Serialization(b[2] >> 4),
		Compression:   Compression(b[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	return h, nil
}

func (m *Message) hasSequence() bool {
	f := m.Header.Flags & sequenceMask
	return f == PositiveSequenceNumber || f == NegativeSequenceNumber
}

func (m *Message) hasEvent() bool {
	return m.Header.Flags&WithEvent == WithEvent
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	f := m.Header.Flags & sequenceMask
	return f == LastPacketNoSequence || f == NegativeSequenceNumber
}

// connection 级事件不带 session id，只有 connection 回执才带 connect id
func eventHasSessionID(e EventType) bool {
	return e != EventTypeStartConnection && e != EventTypeFinishConnection && !eventHasConnectID(e)
}

func eventHasConnectID(e EventType) bool {
	return e == EventTypeConnectionStarted || e == EventTypeConnectionFailed || e == EventTypeConnectionFinished
}

// Encode 把消息编码为一帧二进制数据
func (m *Message) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(m.Header.encode())

	if m.hasSequence() {
		writeUint32(&buf, uint32(m.Sequence))
	}
	if m.hasEvent() {
		writeUint32(&buf, uint32(m.Event))
		if eventHasSessionID(m.Event) {
			writeSized(&buf, []byte(m.SessionID))
		}
		if eventHasConnectID(m.Event) {
			writeSized(&buf, []byte(m.ConnectID))
		}
	}
	if m.Header.Type == ErrorMessage {
		writeUint32(&buf, m.ErrorCode)
	}
	writeSized(&buf, m.Payload)
	return buf.Bytes()
}

// DecodeMessage 解析一帧二进制数据
func DecodeMessage(r io.Reader) (*Message, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	msg := &Message{Header: header}

	// header size 以 4 字节为单位，多出的扩展字段直接跳过
	if extra := int(header.Size)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("skip header extension: %w", err)
		}
	}

	if msg.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if msg.hasEvent() {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		msg.Event = EventType(int32(event))
		if eventHasSessionID(msg.Event) {
			session, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			msg.SessionID = string(session)
		}
		if eventHasConnectID(msg.Event) {
			connect, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			msg.ConnectID = string(connect)
		}
	}

	if header.Type == ErrorMessage {
		if msg.ErrorCode, err = readUint32(r); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	if msg.Payload, err = readSized(r); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return msg, nil
}

// NewFullClientRequest 创建携带 JSON 参数的客户端请求
func NewFullClientRequest(payload []byte, compression Compression) *Message {
	return &Message{
		Header: Header{
			Version:       protocolVersion,
			Size:          1,
			Type:          FullClientRequest,
			Flags:         NoSequenceNumber,
			Serialization: JSONSerialization,
			Compression:   compression,
		},
		Payload: payload,
	}
}

// NewAudioOnlyRequest 创建一包音频；最后一包序号取负
func NewAudioOnlyRequest(payload []byte, sequence int32, last bool, compression Compression) *Message {
	flags := PositiveSequenceNumber
	if last {
		flags = NegativeSequenceNumber
		sequence = -sequence
	}
	return &Message{
		Header: Header{
			Version:       protocolVersion,
			Size:          1,
			Type:          AudioOnlyRequest,
			Flags:         flags,
			Serialization: NoSerialization,
			Compression:   compression,
		},
		Sequence: sequence,
		Payload:  payload,
	}
}

// PayloadBytes 返回解压后的负载
func (m *Message) PayloadBytes() ([]byte, error) {
	switch m.Header.Compression {
	case NoCompression:
		return m.Payload, nil
	case GzipCompression:
		zr, err := gzip.NewReader(bytes.NewReader(m.Payload))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported compression %d", m.Header.Compression)
	}
}

// gzipBytes 压缩负载，请求体较大时使用
func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", size, err)
	}
	return data, nil
}
