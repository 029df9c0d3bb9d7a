package testserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ScriptStep 脚本中的一步：等待Delay后下发Frame
type ScriptStep struct {
	Delay time.Duration
	Frame string
}

// ServerConfig 脚本化对局服务器配置
type ServerConfig struct {
	Addr            string
	Script          []ScriptStep
	LoopScript      bool // 脚本播完后是否从头再来
	MaxConnections  int
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		MaxConnections:  64,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// connection 单个客户端连接
type connection struct {
	id   string
	conn *websocket.Conn

	stopChan  chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func (c *connection) safeClose() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
}

// Server 脚本化的对局服务器
// 每个连入的客户端都按脚本顺序收到一串JSON文本帧，
// 集成测试和演示模式用它模拟真实对局的消息流
type Server struct {
	config   *ServerConfig
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	// 连接管理
	connections sync.Map // map[string]*connection
	connCount   atomic.Int32
	connWg      sync.WaitGroup

	stopCh    chan struct{}
	isRunning atomic.Bool

	// 统计信息
	totalConnections atomic.Uint64
	framesSent       atomic.Uint64
	startTime        time.Time
}

// New 创建脚本化对局服务器
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig("127.0.0.1:0")
	}

	server := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有源
			},
		},
		stopCh:    make(chan struct{}),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/game", server.handleWebSocket)
	mux.HandleFunc("/stats", server.handleStats)

	server.server = &http.Server{
		Addr:    config.Addr,
		Handler: mux,
	}

	return server
}

// Start 启动服务器，Addr端口为0时由系统分配
func (s *Server) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("testserver: listen %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	log.Printf("Starting game server on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// URL 客户端连接用的WebSocket地址
func (s *Server) URL() string {
	return fmt.Sprintf("ws://%s/game", s.Addr())
}

// Shutdown 关闭服务器并等待所有连接协程退出
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	log.Printf("Shutting down game server...")

	close(s.stopCh)

	s.connections.Range(func(key, value interface{}) bool {
		s.closeConnection(value.(*connection), "Server shutdown")
		return true
	})

	s.connWg.Wait()

	return s.server.Shutdown(ctx)
}

// handleWebSocket 处理WebSocket连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	connID := fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), s.totalConnections.Add(1))
	conn := &connection{
		id:       connID,
		conn:     wsConn,
		stopChan: make(chan struct{}),
	}

	s.connections.Store(connID, conn)
	s.connCount.Add(1)

	log.Printf("New connection: %s from %s", connID, r.RemoteAddr)

	s.connWg.Add(2)
	go s.scriptLoop(conn)
	go s.drainLoop(conn)
}

// scriptLoop 按脚本向单个连接下发帧
func (s *Server) scriptLoop(conn *connection) {
	defer func() {
		s.closeConnection(conn, "Script finished")
		s.connWg.Done()
	}()

	for {
		for _, step := range s.config.Script {
			if step.Delay > 0 {
				select {
				case <-s.stopCh:
					return
				case <-conn.stopChan:
					return
				case <-time.After(step.Delay):
				}
			}

			if err := s.sendFrame(conn, step.Frame); err != nil {
				log.Printf("Send to %s failed: %v", conn.id, err)
				return
			}
		}

		if !s.config.LoopScript {
			return
		}
	}
}

// drainLoop 丢弃客户端发来的帧，顺带探测连接存活
func (s *Server) drainLoop(conn *connection) {
	defer func() {
		conn.safeClose()
		s.connWg.Done()
	}()

	conn.conn.SetReadLimit(512 * 1024)

	for {
		select {
		case <-conn.stopChan:
			return
		default:
			conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("Connection read error: %v", err)
				}
				return
			}
		}
	}
}

// sendFrame 发送一帧JSON文本
func (s *Server) sendFrame(conn *connection, frame string) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := conn.conn.WriteMessage(websocket.TextMessage, []byte(frame))
	if err == nil {
		s.framesSent.Add(1)
	}
	return err
}

// closeConnection 关闭连接
func (s *Server) closeConnection(conn *connection, reason string) {
	if _, loaded := s.connections.LoadAndDelete(conn.id); loaded {
		s.connCount.Add(-1)
	}

	conn.mu.Lock()
	conn.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	conn.conn.Close()
	conn.mu.Unlock()

	conn.safeClose()

	log.Printf("Connection closed: %s, reason: %s", conn.id, reason)
}

// handleStats 处理统计信息请求
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.GetStats()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{
        "running": %t,
        "uptime_seconds": %.1f,
        "current_connections": %d,
        "total_connections": %d,
        "frames_sent": %d
    }`,
		stats["running"],
		stats["uptime_seconds"],
		stats["current_connections"],
		stats["total_connections"],
		stats["frames_sent"])
}

// GetStats 获取服务器统计信息
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"running":             s.isRunning.Load(),
		"uptime_seconds":      time.Since(s.startTime).Seconds(),
		"current_connections": s.connCount.Load(),
		"total_connections":   s.totalConnections.Load(),
		"frames_sent":         s.framesSent.Load(),
	}
}
