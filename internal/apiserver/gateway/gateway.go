// Package gateway WebSocket 推送网关
//
// 两类连接：
//   - /ws/client：学生客户端长连接。指令入队后立即推送，省掉轮询
//     延迟；连接本身就是在线信号，断开触发会话转 disconnected。
//   - /ws/admin：管理端监控流。会话生命周期、可疑告警、新截图
//     实时广播给所有在线管理员。
//
// 推送是尽力而为的：指令的事实来源始终是数据库队列，客户端收到
// 推送后仍走 poll 领取，推送丢失只增加延迟。
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"exam-monitor/internal/coordinator"
	"exam-monitor/internal/shared/cache"
	"exam-monitor/internal/shared/model"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	clientSendBuffer = 16
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushMessage 推送消息的统一信封
type pushMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// clientConn 一条学生端连接
//
// send 的写入与关闭都持 mu 串行化：指令推送与连接顶替/会话结束
// 并发时不会写入已关闭的通道。
type clientConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan pushMessage
	closed bool
}

// trySend 非阻塞投递，连接已关闭或缓冲满时丢弃并返回 false
func (c *clientConn) trySend(msg pushMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *clientConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Gateway WebSocket 推送网关
//
// 同一会话同时只保留一条学生端连接，新连接顶掉旧的。
type Gateway struct {
	coord    *coordinator.Coordinator
	presence cache.PresenceCache

	mu       sync.RWMutex
	students map[string]*clientConn          // sessionID -> 连接
	admins   map[*websocket.Conn]chan pushMessage
}

// New 创建推送网关，presence 可为 nil
func New(coord *coordinator.Coordinator, presence cache.PresenceCache) *Gateway {
	return &Gateway{
		coord:    coord,
		presence: presence,
		students: make(map[string]*clientConn),
		admins:   make(map[*websocket.Conn]chan pushMessage),
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/client", g.HandleClient)
	mux.HandleFunc("GET /ws/admin", g.HandleAdmin)
}

// ============================================================================
// 学生端连接
// ============================================================================

// HandleClient 处理学生端 WebSocket 连接
//
// 路由: GET /ws/client?session_id={id}
//
// 会话必须存在且非终态。连接断开触发 MarkDisconnected，
// 重连时客户端先走 POST /api/session/create 恢复会话状态。
func (g *Gateway) HandleClient(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	session, err := g.coord.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if session.Status.IsTerminal() {
		http.Error(w, "session already ended", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] client upgrade error: %v", err)
		return
	}

	client := &clientConn{conn: conn, send: make(chan pushMessage, clientSendBuffer)}
	g.addStudent(sessionID, client)
	g.setOnline(sessionID, session.StudentID, r.RemoteAddr)

	// disconnected 会话经推送通道回连视为重连
	if session.Status == model.SessionStatusDisconnected {
		if _, err := g.coord.Reconnect(context.Background(), sessionID); err != nil {
			log.Printf("[gateway] reconnect %s: %v", sessionID, err)
		}
	}

	log.Printf("[gateway] client connected: %s", sessionID)
	go g.clientWritePump(client)
	g.clientReadPump(sessionID, session.StudentID, client, r.RemoteAddr)
}

// clientReadPump 读取学生端消息，兼做在线心跳
//
// 阻塞到连接关闭。返回时将会话标记为 disconnected（若此时
// 注册表里还是本连接，说明不是被新连接顶掉的）。
func (g *Gateway) clientReadPump(sessionID, studentID string, client *clientConn, remoteAddr string) {
	conn := client.conn
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		g.setOnline(sessionID, studentID, remoteAddr)
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[gateway] client read error: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		g.setOnline(sessionID, studentID, remoteAddr)

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil && req["type"] == "ping" {
			client.trySend(pushMessage{Type: "pong"})
		}
	}

	if g.removeStudent(sessionID, client) {
		if _, err := g.coord.MarkDisconnected(context.Background(), sessionID); err != nil {
			log.Printf("[gateway] mark disconnected %s: %v", sessionID, err)
		}
	}
	client.close()
}

// clientWritePump 推送消息与心跳
func (g *Gateway) clientWritePump(client *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.SetWriteDeadline(time.Now().Add(writeWait))
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ============================================================================
// 管理端连接
// ============================================================================

// HandleAdmin 处理管理端 WebSocket 连接
//
// 路由: GET /ws/admin?token={jwt}
// 认证在中间件完成，这里只负责注册与推流。
func (g *Gateway) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] admin upgrade error: %v", err)
		return
	}

	send := make(chan pushMessage, 64)
	g.mu.Lock()
	g.admins[conn] = send
	g.mu.Unlock()
	log.Printf("[gateway] admin connected (%d online)", g.adminCount())

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	g.mu.Lock()
	if ch, ok := g.admins[conn]; ok {
		delete(g.admins, conn)
		close(ch)
	}
	g.mu.Unlock()
	log.Printf("[gateway] admin disconnected (%d online)", g.adminCount())
}

// ============================================================================
// relay.Notifier 实现
// ============================================================================

// CommandQueued 向目标会话推送新指令提示
func (g *Gateway) CommandQueued(sessionID string, cmd *model.Command) {
	g.mu.RLock()
	client := g.students[sessionID]
	g.mu.RUnlock()
	if client == nil {
		return
	}
	// 缓冲满或连接刚被关闭时丢弃，指令仍可经轮询领取
	client.trySend(pushMessage{Type: "command", Data: cmd})
}

// ============================================================================
// coordinator.Events 实现
// ============================================================================

// SessionStarted 广播会话上线
func (g *Gateway) SessionStarted(session *model.Session) {
	g.broadcastAdmins(pushMessage{Type: "session_started", Data: session})
}

// SessionDisconnected 广播会话断开
func (g *Gateway) SessionDisconnected(sessionID string) {
	g.broadcastAdmins(pushMessage{Type: "session_disconnected", Data: map[string]string{"session_id": sessionID}})
}

// SessionEnded 广播会话结束，并断开该会话的学生端连接
func (g *Gateway) SessionEnded(sessionID string) {
	g.mu.Lock()
	client := g.students[sessionID]
	delete(g.students, sessionID)
	g.mu.Unlock()
	if client != nil {
		client.trySend(pushMessage{Type: "session_ended"})
		client.close()
	}
	g.broadcastAdmins(pushMessage{Type: "session_ended", Data: map[string]string{"session_id": sessionID}})
}

// SuspiciousActivity 广播可疑活动告警
func (g *Gateway) SuspiciousActivity(entry *model.ActivityLogEntry) {
	g.broadcastAdmins(pushMessage{Type: "suspicious_activity", Data: entry})
}

// NewScreenshot 广播截图元数据（不含字节）
func (g *Gateway) NewScreenshot(shot *model.Screenshot) {
	meta := *shot
	meta.Data = nil
	g.broadcastAdmins(pushMessage{Type: "new_screenshot", Data: &meta})
}

// ============================================================================
// 内部辅助
// ============================================================================

func (g *Gateway) addStudent(sessionID string, client *clientConn) {
	g.mu.Lock()
	old := g.students[sessionID]
	g.students[sessionID] = client
	g.mu.Unlock()
	// 新连接顶掉旧的，旧连接的 readPump 因 removeStudent 返回 false 不会误标断开
	if old != nil {
		old.close()
	}
}

// removeStudent 仅当注册表中仍是本连接时移除，返回是否移除
func (g *Gateway) removeStudent(sessionID string, client *clientConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.students[sessionID] == client {
		delete(g.students, sessionID)
		return true
	}
	return false
}

func (g *Gateway) broadcastAdmins(msg pushMessage) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ch := range g.admins {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (g *Gateway) adminCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.admins)
}

func (g *Gateway) setOnline(sessionID, studentID, remoteAddr string) {
	if g.presence == nil {
		return
	}
	now := time.Now()
	err := g.presence.SetStudentOnline(context.Background(), sessionID, &cache.ClientPresence{
		SessionID:   sessionID,
		StudentID:   studentID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		log.Printf("[gateway] presence update %s: %v", sessionID, err)
	}
}
