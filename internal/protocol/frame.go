package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// 帧头长度：类型(2字节) + 请求ID(4字节) + 数据长度(4字节)
	FrameHeaderSize = 10
	// 最大帧大小限制，一次录制可能有上万个事件
	MaxFrameSize = 16 * 1024 * 1024
	// 最小帧大小（只有头部）
	MinFrameSize = FrameHeaderSize
)

// FrameKind 帧类型
type FrameKind uint16

const (
	KindRequest  FrameKind = 1
	KindResponse FrameKind = 2
)

func (k FrameKind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrFrameTooSmall = errors.New("frame too small")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrInvalidFrame  = errors.New("invalid frame format")
)

// Frame 表示一个完整的协议帧
type Frame struct {
	Kind FrameKind
	ID   uint32 // 响应帧与请求帧一一对应
	Body []byte // JSON 消息体
}

// EncodeFrame 编码为二进制帧
// 帧格式: | kind(2字节) | id(4字节) | length(4字节) | body(变长) |
func EncodeFrame(kind FrameKind, id uint32, body []byte) ([]byte, error) {
	if FrameHeaderSize+len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, FrameHeaderSize+len(body))
	}

	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(kind))
	binary.BigEndian.PutUint32(buf[2:6], id)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)

	return buf, nil
}

// DecodeFrame 从二进制数据中解码帧
func DecodeFrame(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameSize {
		return nil, ErrFrameTooSmall
	}

	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	kind := FrameKind(binary.BigEndian.Uint16(raw[0:2]))
	if kind != KindRequest && kind != KindResponse {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidFrame, kind)
	}

	id := binary.BigEndian.Uint32(raw[2:6])
	bodyLength := binary.BigEndian.Uint32(raw[6:10])

	expected := FrameHeaderSize + int(bodyLength)
	if len(raw) != expected {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidFrame, expected, len(raw))
	}

	frame := &Frame{Kind: kind, ID: id}
	if bodyLength > 0 {
		frame.Body = make([]byte, bodyLength)
		copy(frame.Body, raw[FrameHeaderSize:])
	}

	return frame, nil
}
