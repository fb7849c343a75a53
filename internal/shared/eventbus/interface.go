// Package eventbus 任务进度事件总线
//
// 摄取工作进程在任务状态变化时发布事件，
// WebSocket 处理器订阅后推送给客户端。
package eventbus

import "context"

// Publisher 事件发布接口
type Publisher interface {
	// PublishJobEvent 发布任务进度事件
	PublishJobEvent(ctx context.Context, event *JobEvent) error
}

// Subscriber 事件订阅接口
type Subscriber interface {
	// SubscribeJobEvents 订阅指定任务的进度事件，返回事件通道与取消函数
	SubscribeJobEvents(ctx context.Context, jobID string) (<-chan *JobEvent, func(), error)
}

// EventBus 事件总线组合接口
type EventBus interface {
	Publisher
	Subscriber
	Close() error
}
