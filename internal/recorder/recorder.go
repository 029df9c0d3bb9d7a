package recorder

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"ScrollsReplayRecorder/internal/ledger"
	"ScrollsReplayRecorder/internal/protocol"
	"ScrollsReplayRecorder/internal/transcript"
)

// 上传模式配置值，配置键replay
const (
	ModeAuto = "auto"
	ModeAsk  = "ask"
	// 其余任何值都当作仅记账、等待手动上传
)

// State 状态机当前所处的状态
type State int

const (
	StateIdle      State = iota // 未武装，未在对局中
	StateArmed                  // 已武装，等待对局开始
	StateInSession              // 正在录制对局
)

// String 状态的可读形式
func (s State) String() string {
	switch s {
	case StateArmed:
		return "ARMED"
	case StateInSession:
		return "IN_SESSION"
	default:
		return "IDLE"
	}
}

// Prompter 是/否弹窗协作方
// 实现方异步地恰好回调onOk和onCancel中的一个，最多一次
type Prompter interface {
	ShowOkCancel(title, description, okLabel, cancelLabel string, onOk, onCancel func())
}

// Notifier 用户消息与诊断日志出口
type Notifier interface {
	SendMessage(text string)
	WriteLog(text string, err error)
}

// Dispatcher 上传派发口，实现方在独立的并发单元里执行上传
// 消息消费路径绝不能阻塞在网络I/O上
type Dispatcher interface {
	Enqueue(path string)
}

// Settings 配置读取口，带默认值的具名配置项查询
type Settings interface {
	String(key, fallback string) string
	Int(key string, fallback int) int
}

// Recorder 会话状态机
// 消费协议消息流，从消息内容推断对局边界，驱动转写写入器，
// 并在会话收尾时决定转写文件的去向（自动上传/询问/记账待传）
type Recorder struct {
	replayFolder string
	ledger       *ledger.Ledger
	settings     Settings
	prompter     Prompter
	notifier     Notifier
	dispatcher   Dispatcher

	// 注入时钟，测试时可替换
	now func() time.Time

	mu          sync.Mutex
	armed       bool
	inGame      bool
	version     string
	writer      *transcript.Writer
	replayPath  string
	lastMessage time.Time
}

// New 创建会话状态机
func New(replayFolder string, lg *ledger.Ledger, settings Settings, prompter Prompter, notifier Notifier, dispatcher Dispatcher) *Recorder {
	return &Recorder{
		replayFolder: replayFolder,
		ledger:       lg,
		settings:     settings,
		prompter:     prompter,
		notifier:     notifier,
		dispatcher:   dispatcher,
		now:          time.Now,
	}
}

// State 返回当前状态，测试与诊断用
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.inGame:
		return StateInSession
	case r.armed:
		return StateArmed
	default:
		return StateIdle
	}
}

// LastReplayPath 最近一次会话的转写文件路径
func (r *Recorder) LastReplayPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replayPath
}

// HandleMessage 消费一条协议消息，在投递协程上同步执行
// 任何文件写入失败只丢弃该行并记诊断日志，绝不让消息循环崩掉
func (r *Recorder) HandleMessage(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case msg.Kind == protocol.KindBattleRedirect:
		// 进入对局的重定向信号：打开录制开关
		r.armed = true
		return

	case msg.Kind == protocol.KindServerInfo:
		// 记下协议版本号供metadata使用
		if msg.ServerInfo != nil {
			r.version = msg.ServerInfo.Version
		}

	case !r.inGame && r.armed && msg.Kind == protocol.KindProfileInfo:
		// 对局彻底结束后的档案信息：真正的会话生命周期终点
		// 对局中掉线重连也会收到ProfileInfo，所以只有不在对局中才走这里
		if r.settings.String("replay", ModeAsk) == ModeAsk {
			r.askToUpload(r.replayPath)
		}
		r.armed = false
		return

	case !r.armed:
		// 未武装时所有消息整体忽略，不产生任何副作用
		return
	}

	// 对局开始
	if msg.Kind == protocol.KindGameInfo {
		if r.inGame {
			// 重连期间的重复开始信号，幂等忽略
			return
		}
		r.openSession(msg.GameInfo)
		return
	}

	// 协议噪音不进转写
	if msg.Kind.IsJunk() {
		return
	}

	if !r.inGame {
		return
	}

	now := r.now()
	elapsed := now.Sub(r.lastMessage).Seconds()
	if err := r.writer.WriteElapsed(elapsed, msg.Raw); err != nil {
		r.notifier.WriteLog("Failed to append replay record", err)
	}

	// 对局结束
	if msg.IsEndGame() {
		r.closeSession(msg)
	}

	r.lastMessage = now
}

// openSession 开启新会话：建转写文件并写入首行元数据
func (r *Recorder) openSession(info *protocol.GameInfo) {
	r.lastMessage = r.now()

	perspective := info.Color
	filename := fmt.Sprintf("%d-%s%s", info.GameID, perspective, transcript.FileExt)
	path := filepath.Join(r.replayFolder, filename)

	bufferSize := r.settings.Int("buffer", transcript.DefaultBufferSize)
	writer, err := transcript.Open(path, bufferSize)
	if err != nil {
		r.notifier.WriteLog("Failed to open replay transcript", err)
		return
	}

	meta := transcript.Metadata{
		{Key: "perspective", Value: string(perspective)},
		{Key: "white-id", Value: info.Player(protocol.SideWhite).ProfileID},
		{Key: "black-id", Value: info.Player(protocol.SideBlack).ProfileID},
		{Key: "white-name", Value: info.Player(protocol.SideWhite).Name},
		{Key: "black-name", Value: info.Player(protocol.SideBlack).Name},
		{Key: "deck", Value: "dont know"},
		{Key: "game-id", Value: info.GameID},
		{Key: "winner", Value: protocol.PlaceholderWinner},
		{Key: "played-at", Value: r.lastMessage.Unix()},
		{Key: "version", Value: r.version},
	}

	if err := writer.WriteMetadata(meta); err != nil {
		r.notifier.WriteLog("Failed to write replay metadata", err)
		writer.Close()
		return
	}

	r.writer = writer
	r.replayPath = path
	r.inGame = true
}

// closeSession 收尾：关文件、把占位符补成真实胜者、按配置派发去向
func (r *Recorder) closeSession(endMsg *protocol.Message) {
	r.inGame = false

	if err := r.writer.Close(); err != nil {
		r.notifier.WriteLog("Failed to close replay transcript", err)
	}
	r.writer = nil

	winner := endMsg.Winner()
	if err := transcript.PatchPlaceholder(r.replayPath, protocol.PlaceholderWinner, string(winner)); err != nil {
		r.notifier.WriteLog("Failed to patch replay winner", err)
	}

	// auto模式直接丢给上传队列，不用等任何人
	// 其余模式先记账，等用户点头或手动上传
	if r.settings.String("replay", ModeAsk) == ModeAuto {
		r.dispatcher.Enqueue(r.replayPath)
	} else {
		if err := r.ledger.Defer(filepath.Base(r.replayPath)); err != nil {
			r.notifier.WriteLog("Failed to record pending upload", err)
		}
	}
}

// askToUpload 弹出是/否询问，最多恰好回调一个分支
func (r *Recorder) askToUpload(path string) {
	if path == "" {
		return
	}

	r.prompter.ShowOkCancel(
		"Upload Replay?",
		"Do you want this replay to be uploaded to ScrollsPost.com?",
		"Yes", "No",
		func() {
			r.notifier.SendMessage("Replay is being uploaded...")
			r.dispatcher.Enqueue(path)
		},
		func() {
			r.notifier.SendMessage("Replay will not be uploaded, you can always manually upload it later if you change your mind. Go to /sp -> Replay List to manually upload.")
		},
	)
}
