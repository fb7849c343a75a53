// Package api WebSocket 任务进度网关
//
// 进度网关提供摄取任务进度的实时推送能力，
// 供前端在提交摄取后跟踪处理进度，不必轮询任务接口。
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"knowledge-engine/internal/shared/eventbus"
	"knowledge-engine/internal/shared/storage"
	"knowledge-engine/pkg/logging"
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 当前允许所有来源，生产环境应限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriteTimeout 单条消息写超时
const wsWriteTimeout = 10 * time.Second

// wsMessage 推送消息封装
//
// 消息格式：
//
//	任务快照：{"type": "job", "data": {...}}
//	进度事件：{"type": "event", "data": {...}}
//	心跳响应：{"type": "pong"}
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventGateway WebSocket 任务进度网关
//
// 网关负责：
//   - 升级连接并先推送任务当前快照（补齐订阅前已发生的进度）
//   - 订阅事件总线并转发该任务的进度事件
//   - 终态事件推送后主动关闭连接
type EventGateway struct {
	store   storage.JobStore
	bus     eventbus.Subscriber
	metrics *Metrics
	logger  *logging.Logger
}

// NewEventGateway 创建进度网关实例
func NewEventGateway(store storage.JobStore, bus eventbus.Subscriber, metrics *Metrics) *EventGateway {
	return &EventGateway{
		store:   store,
		bus:     bus,
		metrics: metrics,
		logger:  logging.Default("ws-gateway"),
	}
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/jobs/{id}/events
//
// 连接建立后：
//  1. 推送任务当前快照（type=job）
//  2. 任务已终结则直接关闭
//  3. 否则转发进度事件（type=event）直到终态
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}

	job, err := g.store.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	job.Sources = nil

	// 先订阅再发快照，订阅建立前的事件不会丢
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var events <-chan *eventbus.JobEvent
	var unsubscribe func()
	if !job.Status.Terminal() {
		events, unsubscribe, err = g.bus.SubscribeJobEvents(ctx, jobID)
		if err != nil {
			http.Error(w, "failed to subscribe", http.StatusInternalServerError)
			return
		}
		defer unsubscribe()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithJobID(jobID).WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	g.metrics.WSConnectionOpened()
	defer g.metrics.WSConnectionClosed()
	g.logger.WithJobID(jobID).Debug("websocket client connected")

	if err := g.send(conn, wsMessage{Type: "job", Data: job}); err != nil {
		return
	}
	g.metrics.RecordWSMessage("out", "job")
	if job.Status.Terminal() {
		return
	}

	// 读协程：处理心跳并在断连时取消订阅
	pings := make(chan struct{}, 4)
	go g.readLoop(conn, cancel, pings)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pings:
			if err := g.send(conn, wsMessage{Type: "pong"}); err != nil {
				return
			}
			g.metrics.RecordWSMessage("out", "pong")
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := g.send(conn, wsMessage{Type: "event", Data: ev}); err != nil {
				return
			}
			g.metrics.RecordWSMessage("out", "event")
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

// send 序列化并写入单条消息
func (g *EventGateway) send(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

// readLoop 读取客户端消息：识别 ping，连接断开时取消上下文
func (g *EventGateway) readLoop(conn *websocket.Conn, cancel context.CancelFunc, pings chan<- struct{}) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		g.metrics.RecordWSMessage("in", msg.Type)
		if msg.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}
