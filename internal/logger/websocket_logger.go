package logger

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogMessage 日志消息结构
type LogMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
}

// WebSocketLogger WebSocket日志广播器
// 录制器的用户消息和诊断日志都走这里：先打到控制台，
// 再广播给所有连着日志流的客户端（游戏内覆盖层、调试页面）
type WebSocketLogger struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LogMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewWebSocketLogger 创建新的WebSocket日志器
func NewWebSocketLogger() *WebSocketLogger {
	return &WebSocketLogger{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LogMessage, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run 启动WebSocket日志器
func (wsl *WebSocketLogger) Run() {
	for {
		select {
		case client := <-wsl.register:
			wsl.mu.Lock()
			wsl.clients[client] = true
			count := len(wsl.clients)
			wsl.mu.Unlock()
			log.Printf("WebSocket客户端已连接，当前连接数: %d", count)

		case client := <-wsl.unregister:
			wsl.mu.Lock()
			if _, ok := wsl.clients[client]; ok {
				delete(wsl.clients, client)
				client.Close()
			}
			count := len(wsl.clients)
			wsl.mu.Unlock()
			log.Printf("WebSocket客户端已断开，当前连接数: %d", count)

		case message := <-wsl.broadcast:
			wsl.mu.Lock()
			for client := range wsl.clients {
				client.SetWriteDeadline(time.Now().Add(time.Second))
				if err := client.WriteJSON(message); err != nil {
					log.Printf("发送日志消息失败: %v", err)
					delete(wsl.clients, client)
					client.Close()
				}
			}
			wsl.mu.Unlock()
		}
	}
}

// emit 打控制台并广播，通道满时丢弃避免阻塞
func (wsl *WebSocketLogger) emit(level, module, message string) {
	log.Printf("[%s] %s: %s", level, module, message)

	select {
	case wsl.broadcast <- LogMessage{
		Level:     level,
		Message:   message,
		Module:    module,
		Timestamp: time.Now(),
	}:
	default:
	}
}

// LogInfo 记录信息日志
func (wsl *WebSocketLogger) LogInfo(module, message string) {
	wsl.emit("INFO", module, message)
}

// LogError 记录错误日志
func (wsl *WebSocketLogger) LogError(module, message string) {
	wsl.emit("ERROR", module, message)
}

// LogSuccess 记录成功日志
func (wsl *WebSocketLogger) LogSuccess(module, message string) {
	wsl.emit("SUCCESS", module, message)
}

// SendMessage 面向玩家的消息，级别MESSAGE
func (wsl *WebSocketLogger) SendMessage(text string) {
	wsl.emit("MESSAGE", "Replay", text)
}

// WriteLog 诊断日志，附带底层错误
func (wsl *WebSocketLogger) WriteLog(text string, err error) {
	if err != nil {
		wsl.emit("ERROR", "Replay", text+": "+err.Error())
		return
	}
	wsl.emit("ERROR", "Replay", text)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// HandleWebSocket 处理WebSocket连接
func (wsl *WebSocketLogger) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	// 注册客户端
	wsl.register <- conn

	// 发送欢迎消息
	welcomeMsg := LogMessage{
		Level:     "INFO",
		Message:   "已连接到录制器日志流",
		Module:    "WebSocket",
		Timestamp: time.Now(),
	}
	conn.WriteJSON(welcomeMsg)

	// 处理客户端断开
	defer func() {
		wsl.unregister <- conn
	}()

	// 保持连接活跃
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket连接错误: %v", err)
			}
			break
		}
	}
}

// 全局日志器实例
var GlobalLogger *WebSocketLogger

// InitGlobalLogger 初始化全局日志器
func InitGlobalLogger() {
	GlobalLogger = NewWebSocketLogger()
	go GlobalLogger.Run()
}

// 便捷函数
func LogInfo(module, message string) {
	if GlobalLogger != nil {
		GlobalLogger.LogInfo(module, message)
	}
}

func LogError(module, message string) {
	if GlobalLogger != nil {
		GlobalLogger.LogError(module, message)
	}
}

func LogSuccess(module, message string) {
	if GlobalLogger != nil {
		GlobalLogger.LogSuccess(module, message)
	}
}
