package ingestserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"ScrollsReplayRecorder/internal/database"
	"ScrollsReplayRecorder/internal/transcript"
)

// DefaultMinRecords 低于这个记录数的回放按太短拒收
const DefaultMinRecords = 2

// maxReplaySize 单个回放文件的大小上限
const maxReplaySize = 8 << 20 // 8MB

// Store 回放存储接口，生产环境走PostgreSQL
type Store interface {
	Insert(ctx context.Context, r *database.Replay) (int64, error)
	Get(ctx context.Context, id int64) (*database.Replay, error)
	List(ctx context.Context, limit, offset int) ([]*database.Replay, error)
	Count(ctx context.Context) (int, error)
}

// ServerConfig 接收服务配置
type ServerConfig struct {
	Addr       string
	PublicURL  string // 回放展示地址的前缀
	MinRecords int
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:       addr,
		PublicURL:  "http://scrollspost.com",
		MinRecords: DefaultMinRecords,
	}
}

// Server 回放接收服务
// 客户端把.spr转写文件以multipart表单提交上来，
// 这里做格式校验后入库，并返回可分享的回放地址
type Server struct {
	config *ServerConfig
	store  Store
	router *mux.Router
	server *http.Server

	// 统计信息
	requestCount int64
	errorCount   int64
	acceptCount  int64
	rejectCount  int64
	startTime    time.Time
	mu           sync.RWMutex
}

// APIResponse 列表和详情接口的响应包装
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type PaginatedResponse struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
	Timestamp  int64       `json:"timestamp"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ReplaySummary 列表接口里的单条回放
type ReplaySummary struct {
	ID          int64  `json:"id"`
	GameID      int64  `json:"game_id"`
	Perspective string `json:"perspective"`
	Winner      string `json:"winner"`
	WhiteName   string `json:"white_name"`
	BlackName   string `json:"black_name"`
	PlayedAt    int64  `json:"played_at"`
	Version     string `json:"version"`
	Records     int    `json:"records"`
	URL         string `json:"url"`
}

// NewServer 创建接收服务
func NewServer(config *ServerConfig, store Store) *Server {
	if config == nil {
		config = DefaultServerConfig(":8090")
	}
	if config.MinRecords <= 0 {
		config.MinRecords = DefaultMinRecords
	}

	server := &Server{
		config:    config,
		store:     store,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}

	server.setupRoutes()

	// 设置CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server.server = &http.Server{
		Addr:         config.Addr,
		Handler:      c.Handler(server.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/replays", s.ingestReplayHandler).Methods("POST")
	api.HandleFunc("/replays", s.listReplaysHandler).Methods("GET")
	api.HandleFunc("/replays/{id:[0-9]+}", s.getReplayHandler).Methods("GET")
	api.HandleFunc("/replays/{id:[0-9]+}/download", s.downloadReplayHandler).Methods("GET")

	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
}

// 中间件
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		log.Printf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, duration)

		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()
	})
}

// ingestReplayHandler 接收一个.spr转写文件
// 响应是扁平的{"url":...}或{"error":...}，客户端靠这两个键分流
func (s *Server) ingestReplayHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReplaySize)

	file, _, err := r.FormFile("replay")
	if err != nil {
		s.writeUploadError(w, http.StatusBadRequest, "missing_replay_field")
		return
	}
	defer file.Close()

	tr, err := transcript.Parse(file)
	if err != nil {
		s.writeUploadError(w, http.StatusUnprocessableEntity, "malformed_replay")
		return
	}

	// 没打过第一回合的对局没有保存价值
	if len(tr.Records) < s.config.MinRecords {
		s.writeUploadError(w, http.StatusUnprocessableEntity, "game_too_short")
		return
	}

	replay := replayFromTranscript(tr)
	if replay.GameID == 0 || replay.Perspective == "" {
		s.writeUploadError(w, http.StatusUnprocessableEntity, "missing_metadata")
		return
	}

	id, err := s.store.Insert(r.Context(), replay)
	if err != nil {
		log.Printf("Insert replay failed: %v", err)
		s.writeUploadError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	s.mu.Lock()
	s.acceptCount++
	s.mu.Unlock()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"url": s.replayURL(id),
	})
}

// replayFromTranscript 从转写元数据组装入库记录
func replayFromTranscript(tr *transcript.Transcript) *database.Replay {
	var content strings.Builder
	content.WriteString(transcript.MetadataPrefix)
	raw, _ := json.Marshal(tr.Metadata)
	content.Write(raw)
	content.WriteByte('\n')
	for _, rec := range tr.Records {
		fmt.Fprintf(&content, "%s%.2f|%s\n", transcript.ElapsedPrefix, rec.Elapsed, rec.Raw)
	}

	return &database.Replay{
		GameID:      metaInt64(tr.Metadata, "game-id"),
		Perspective: metaString(tr.Metadata, "perspective"),
		Winner:      metaString(tr.Metadata, "winner"),
		WhiteName:   metaString(tr.Metadata, "white-name"),
		BlackName:   metaString(tr.Metadata, "black-name"),
		PlayedAt:    metaInt64(tr.Metadata, "played-at"),
		Version:     metaString(tr.Metadata, "version"),
		Records:     len(tr.Records),
		Content:     content.String(),
	}
}

func metaString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// listReplaysHandler 分页列出已入库的回放
func (s *Server) listReplaysHandler(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	total, err := s.store.Count(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "storage_error", "Failed to count replays")
		return
	}

	replays, err := s.store.List(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "storage_error", "Failed to list replays")
		return
	}

	summaries := make([]ReplaySummary, 0, len(replays))
	for _, rep := range replays {
		summaries = append(summaries, s.summarize(rep))
	}

	s.writeJSON(w, http.StatusOK, PaginatedResponse{
		Success: true,
		Data:    summaries,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// getReplayHandler 回放详情
func (s *Server) getReplayHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	replay, err := s.store.Get(r.Context(), id)
	if err == database.ErrNotFound {
		s.writeErrorResponse(w, http.StatusNotFound, "replay_not_found", "Replay not found")
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "storage_error", "Failed to load replay")
		return
	}

	s.writeSuccessResponse(w, s.summarize(replay))
}

// downloadReplayHandler 原样吐出.spr文件内容
func (s *Server) downloadReplayHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	replay, err := s.store.Get(r.Context(), id)
	if err == database.ErrNotFound {
		s.writeErrorResponse(w, http.StatusNotFound, "replay_not_found", "Replay not found")
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "storage_error", "Failed to load replay")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%d-%s%s"`, replay.GameID, replay.Perspective, transcript.FileExt))
	w.Write([]byte(replay.Content))
}

func (s *Server) summarize(r *database.Replay) ReplaySummary {
	return ReplaySummary{
		ID:          r.ID,
		GameID:      r.GameID,
		Perspective: r.Perspective,
		Winner:      r.Winner,
		WhiteName:   r.WhiteName,
		BlackName:   r.BlackName,
		PlayedAt:    r.PlayedAt,
		Version:     r.Version,
		Records:     r.Records,
		URL:         s.replayURL(r.ID),
	}
}

func (s *Server) replayURL(id int64) string {
	return fmt.Sprintf("%s/replay/%d", strings.TrimRight(s.config.PublicURL, "/"), id)
}

// healthCheckHandler 健康检查
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.writeSuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

// statsHandler 服务统计
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"uptime_seconds":   time.Since(s.startTime).Seconds(),
			"total_requests":   s.requestCount,
			"error_count":      s.errorCount,
			"accepted_replays": s.acceptCount,
			"rejected_replays": s.rejectCount,
		},
		Timestamp: time.Now().UnixMilli(),
	})
}

// 辅助方法
func (s *Server) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()

	s.writeJSON(w, statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
	})
}

// writeUploadError 上传接口专用的扁平错误响应
func (s *Server) writeUploadError(w http.ResponseWriter, statusCode int, code string) {
	s.mu.Lock()
	s.errorCount++
	s.rejectCount++
	s.mu.Unlock()

	s.writeJSON(w, statusCode, map[string]string{"error": code})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Handler 暴露底层Handler，测试里配合httptest使用
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器
func (s *Server) Start() error {
	log.Printf("Starting replay ingest server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	log.Printf("Stopping replay ingest server")
	return s.server.Shutdown(ctx)
}
