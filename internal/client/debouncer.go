package client

import (
	"sync"
	"time"
)

const DefaultTypingDelay = time.Second

// Debouncer 把连续按键折叠成一次 typing 和一次 stopTyping
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	typing  bool
	onStart func()
	onStop  func()
}

func NewDebouncer(delay time.Duration, onStart, onStop func()) *Debouncer {
	if delay <= 0 {
		delay = DefaultTypingDelay
	}
	return &Debouncer{delay: delay, onStart: onStart, onStop: onStop}
}

// Keystroke 每次输入都重置计时器，只有第一次触发 onStart
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	start := !d.typing
	d.typing = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.expire(gen) })
	d.mu.Unlock()

	if start && d.onStart != nil {
		d.onStart()
	}
}

// Stop 立即结束输入状态，例如消息已发送
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	wasTyping := d.typing
	d.typing = false
	d.mu.Unlock()

	if wasTyping && d.onStop != nil {
		d.onStop()
	}
}

func (d *Debouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	// 已被新的按键或 Stop 取代
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	if d.onStop != nil {
		d.onStop()
	}
}
