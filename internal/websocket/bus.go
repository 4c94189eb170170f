package websocket

import "context"

// BusEnvelope 是在实例之间转发的一次房间广播
type BusEnvelope struct {
	Origin  string `json:"origin"`
	Room    string `json:"room"`
	Except  string `json:"except,omitempty"`
	Payload []byte `json:"payload"`
}

// Bus 让多个进程共享房间广播，在线列表仍然只在本进程内维护
type Bus interface {
	Publish(ctx context.Context, env BusEnvelope) error
	// Consume 阻塞直到 ctx 结束
	Consume(ctx context.Context, deliver func(BusEnvelope)) error
	Close() error
}
