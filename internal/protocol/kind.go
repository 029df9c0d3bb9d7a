package protocol

// Kind 消息种类判别值 - 状态机只依赖这个判别值做分支
type Kind uint16

const (
	KindUnknown Kind = iota

	// 会话生命周期相关
	KindBattleRedirect // 被重定向进入对局，录制开关打开
	KindServerInfo     // 服务器信息（携带协议版本号）
	KindProfileInfo    // 离开对局后的玩家档案信息，真正的会话结束信号

	// 对局相关
	KindGameInfo     // 对局开始信息（双方玩家、视角、对局ID）
	KindBattleRejoin // 断线重连回到对局
	KindNewEffects   // 对局效果推送（结束时包含EndGame标记）

	// 协议应答类
	KindFail
	KindOk

	// 其余所有消息（走棋、聊天等），原文直接进转写文件
	KindGeneric
)

// String 将消息种类转换为可读字符串，用于调试和日志
func (k Kind) String() string {
	switch k {
	case KindBattleRedirect:
		return "BATTLE_REDIRECT"
	case KindServerInfo:
		return "SERVER_INFO"
	case KindProfileInfo:
		return "PROFILE_INFO"
	case KindGameInfo:
		return "GAME_INFO"
	case KindBattleRejoin:
		return "BATTLE_REJOIN"
	case KindNewEffects:
		return "NEW_EFFECTS"
	case KindFail:
		return "FAIL"
	case KindOk:
		return "OK"
	case KindGeneric:
		return "GENERIC"
	default:
		return "UNKNOWN"
	}
}

// IsJunk 判断是否为转写时直接忽略的协议噪音
func (k Kind) IsJunk() bool {
	switch k {
	case KindBattleRejoin, KindFail, KindOk:
		return true
	default:
		return false
	}
}

// kindByName 消息名到判别值的封闭映射
var kindByName = map[string]Kind{
	"BattleRedirect": KindBattleRedirect,
	"ServerInfo":     KindServerInfo,
	"ProfileInfo":    KindProfileInfo,
	"GameInfo":       KindGameInfo,
	"BattleRejoin":   KindBattleRejoin,
	"NewEffects":     KindNewEffects,
	"Fail":           KindFail,
	"Ok":             KindOk,
}

// KindForName 根据消息名查找判别值，未知消息名归类为Generic
func KindForName(name string) Kind {
	if k, ok := kindByName[name]; ok {
		return k
	}
	if name == "" {
		return KindUnknown
	}
	return KindGeneric
}
