// Package eventbus 内存事件总线实现（用于测试与单机模式）
package eventbus

import (
	"context"
	"sync"
)

// MemBus 内存事件总线
type MemBus struct {
	mu   sync.Mutex
	subs map[string][]chan *JobEvent
}

// NewMemBus 创建内存事件总线
func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string][]chan *JobEvent)}
}

// PublishJobEvent 发布任务进度事件
func (b *MemBus) PublishJobEvent(ctx context.Context, event *JobEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default: // 订阅者积压时丢弃，发布端不阻塞
		}
	}
	return nil
}

// SubscribeJobEvents 订阅指定任务的进度事件
func (b *MemBus) SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *JobEvent, func(), error) {
	ch := make(chan *JobEvent, 16)

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[jobID]
			for i, c := range list {
				if c == ch {
					b.subs[jobID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Close 关闭事件总线
func (b *MemBus) Close() error {
	return nil
}

// 确保 MemBus 实现了 EventBus 接口
var _ EventBus = (*MemBus)(nil)
