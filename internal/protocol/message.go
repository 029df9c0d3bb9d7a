package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// PlaceholderWinner 对局开始时写入metadata的胜者占位符，收尾时被真实结果替换
	PlaceholderWinner = "SPWINNERSP"

	// endGameMarker 出现在NewEffects原文中表示对局结束
	endGameMarker = "EndGame"

	// winnerWhiteMarker 结束消息原文中白方获胜的字面标记
	winnerWhiteMarker = `winner":"white"`
)

var (
	ErrEmptyFrame   = errors.New("empty message frame")
	ErrInvalidFrame = errors.New("invalid message frame")
)

// Side 对局的一方，同时也是录制视角
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// PlayerRef 对局中单个玩家的引用信息
type PlayerRef struct {
	ProfileID int64  `json:"profileId"`
	Name      string `json:"name"`
}

// ServerInfo ServerInfo消息的载荷
type ServerInfo struct {
	Version string `json:"version"`
}

// GameInfo GameInfo消息的载荷
type GameInfo struct {
	GameID int64     `json:"gameId"`
	Color  Side      `json:"color"`
	White  PlayerRef `json:"white"`
	Black  PlayerRef `json:"black"`
}

// Player 按颜色取玩家引用
func (g *GameInfo) Player(side Side) PlayerRef {
	if side == SideWhite {
		return g.White
	}
	return g.Black
}

// ProfileInfo ProfileInfo消息的载荷
type ProfileInfo struct {
	ProfileID int64  `json:"profileId"`
	Name      string `json:"name"`
}

// Message 带判别值的封闭消息变体
// 判别值决定哪个载荷指针非空；Raw始终保留单行原文
type Message struct {
	Kind Kind
	Raw  string

	ServerInfo  *ServerInfo
	GameInfo    *GameInfo
	ProfileInfo *ProfileInfo
}

// envelope 线上JSON帧的外层结构，只解出识别消息所需的字段
type envelope struct {
	Msg string `json:"msg"`
}

// Decode 将一帧文本解码为消息
// 帧格式为单行JSON对象，msg字段是消息名；未知消息名归类为Generic并保留原文
func Decode(frame string) (*Message, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if frame == "" {
		return nil, ErrEmptyFrame
	}

	var env envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		return nil, ErrInvalidFrame
	}

	msg := &Message{
		Kind: KindForName(env.Msg),
		Raw:  frame,
	}

	// 按判别值解出对应载荷
	switch msg.Kind {
	case KindServerInfo:
		info := &ServerInfo{}
		if err := json.Unmarshal([]byte(frame), info); err != nil {
			return nil, ErrInvalidFrame
		}
		msg.ServerInfo = info
	case KindGameInfo:
		info := &GameInfo{}
		if err := json.Unmarshal([]byte(frame), info); err != nil {
			return nil, ErrInvalidFrame
		}
		if info.Color != SideWhite && info.Color != SideBlack {
			return nil, ErrInvalidFrame
		}
		msg.GameInfo = info
	case KindProfileInfo:
		info := &ProfileInfo{}
		if err := json.Unmarshal([]byte(frame), info); err != nil {
			return nil, ErrInvalidFrame
		}
		msg.ProfileInfo = info
	case KindUnknown:
		return nil, ErrInvalidFrame
	}

	return msg, nil
}

// IsEndGame 判断消息是否为携带结束标记的NewEffects
func (m *Message) IsEndGame() bool {
	return m.Kind == KindNewEffects && strings.Contains(m.Raw, endGameMarker)
}

// Winner 从结束消息原文中检出胜者
// 只认白方的字面标记，检不到一律判黑方获胜
func (m *Message) Winner() Side {
	if strings.Contains(m.Raw, winnerWhiteMarker) {
		return SideWhite
	}
	return SideBlack
}
