package testserver

import (
	"fmt"
	"time"
)

// GameScriptOptions 标准对局脚本的参数
type GameScriptOptions struct {
	GameID    int64
	Color     string // white或black
	Winner    string // white或black
	WhiteID   int64
	WhiteName string
	BlackID   int64
	BlackName string
	Version   string
	Moves     []string // 每手牌的原始JSON帧
	MoveDelay time.Duration
}

// GameScript 组装一局完整对局的消息脚本：
// 重定向、版本、开局、若干手牌、终局、档案信息
func GameScript(opts GameScriptOptions) []ScriptStep {
	if opts.Version == "" {
		opts.Version = "1.0"
	}
	if opts.Winner == "" {
		opts.Winner = "white"
	}

	steps := []ScriptStep{
		{Frame: `{"msg":"BattleRedirect","ip":"127.0.0.1","port":8081}`},
		{Frame: fmt.Sprintf(`{"msg":"ServerInfo","version":"%s"}`, opts.Version)},
		{Frame: fmt.Sprintf(
			`{"msg":"GameInfo","gameId":%d,"color":"%s","white":{"profileId":%d,"name":"%s"},"black":{"profileId":%d,"name":"%s"}}`,
			opts.GameID, opts.Color, opts.WhiteID, opts.WhiteName, opts.BlackID, opts.BlackName)},
	}

	for _, move := range opts.Moves {
		steps = append(steps, ScriptStep{Delay: opts.MoveDelay, Frame: move})
	}

	steps = append(steps,
		ScriptStep{Delay: opts.MoveDelay, Frame: fmt.Sprintf(
			`{"msg":"NewEffects","effects":[{"EndGame":{"winner":"%s","gameId":%d}}]}`,
			opts.Winner, opts.GameID)},
		ScriptStep{Delay: opts.MoveDelay, Frame: fmt.Sprintf(
			`{"msg":"ProfileInfo","profileId":%d,"name":"%s"}`, opts.WhiteID, opts.WhiteName)},
	)

	return steps
}
