// Package model 定义核心数据模型
//
// command.go 包含远程指令相关的数据模型定义：
//   - Command：管理员下发给学生端的一条远程指令
//   - CommandStatus：生命周期状态（严格单向）
//   - CommandType：指令类型枚举及按类型校验的载荷联合体
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// CommandStatus - 指令生命周期状态
// ============================================================================

// CommandStatus 表示远程指令的生命周期状态
//
// 状态机（严格单向，任何状态不可跳过 executing）：
//
//	pending → executing → completed
//	                    ↘ failed
//
// pending→executing 的转换由原子认领完成：同一会话的并发轮询
// 请求竞争同一条指令时，恰好一个请求拿到它。
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"   // 已入队，等待投递
	CommandStatusExecuting CommandStatus = "executing" // 已投递给客户端
	CommandStatusCompleted CommandStatus = "completed" // 执行成功（终态）
	CommandStatusFailed    CommandStatus = "failed"    // 执行失败（终态）
)

// IsTerminal 判断状态是否为终态
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusFailed
}

// ============================================================================
// CommandType - 指令类型
// ============================================================================

// CommandType 定义远程指令的类型
//
// 每种类型对应一个固定形状的载荷，入队时即校验，
// 未知类型直接拒绝而不是静默忽略。
type CommandType string

const (
	CommandTypeMouseClick        CommandType = "mouse_click"        // 模拟鼠标点击
	CommandTypeMouseMove         CommandType = "mouse_move"         // 模拟鼠标移动
	CommandTypeKeyPress          CommandType = "key_press"          // 模拟按键
	CommandTypeTypeText          CommandType = "type_text"          // 逐字符输入文本
	CommandTypeCaptureScreenshot CommandType = "capture_screenshot" // 立即抓取屏幕截图
	CommandTypeExecuteShell      CommandType = "execute_shell"      // 执行 shell 命令
)

// Valid 判断是否为已知指令类型
func (t CommandType) Valid() bool {
	switch t {
	case CommandTypeMouseClick, CommandTypeMouseMove, CommandTypeKeyPress,
		CommandTypeTypeText, CommandTypeCaptureScreenshot, CommandTypeExecuteShell:
		return true
	default:
		return false
	}
}

// ============================================================================
// 指令载荷（按类型区分的联合体）
// ============================================================================

// MouseClickPayload mouse_click 载荷
type MouseClickPayload struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button,omitempty"` // left（默认）| right | middle
}

// MouseMovePayload mouse_move 载荷
type MouseMovePayload struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// KeyPressPayload key_press 载荷
type KeyPressPayload struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// TypeTextPayload type_text 载荷
type TypeTextPayload struct {
	Text string `json:"text"`
}

// ExecuteShellPayload execute_shell 载荷
type ExecuteShellPayload struct {
	Command string `json:"command"`
}

// ValidateCommandPayload 按指令类型校验载荷形状
//
// capture_screenshot 不需要载荷；其余类型必填字段缺失即返回错误。
// 返回的错误描述可直接透出给管理端。
func ValidateCommandPayload(t CommandType, payload json.RawMessage) error {
	switch t {
	case CommandTypeMouseClick:
		var p MouseClickPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return err
		}
		switch p.Button {
		case "", "left", "right", "middle":
		default:
			return fmt.Errorf("invalid mouse button %q", p.Button)
		}
		return nil
	case CommandTypeMouseMove:
		var p MouseMovePayload
		return strictUnmarshal(payload, &p)
	case CommandTypeKeyPress:
		var p KeyPressPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return err
		}
		if p.Key == "" {
			return fmt.Errorf("key_press requires a key")
		}
		return nil
	case CommandTypeTypeText:
		var p TypeTextPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return err
		}
		if p.Text == "" {
			return fmt.Errorf("type_text requires text")
		}
		return nil
	case CommandTypeExecuteShell:
		var p ExecuteShellPayload
		if err := strictUnmarshal(payload, &p); err != nil {
			return err
		}
		if p.Command == "" {
			return fmt.Errorf("execute_shell requires a command")
		}
		return nil
	case CommandTypeCaptureScreenshot:
		return nil
	default:
		return fmt.Errorf("unknown command type %q", t)
	}
}

func strictUnmarshal(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

// ============================================================================
// Command - 远程指令
// ============================================================================

// Command 表示管理员对某个会话下发的一条远程指令
//
// 入队路径唯一（无论推送还是轮询投递都先落库为 pending），
// 投递路径按传输方式分流；结果由客户端异步上报。
//
// 数据库表：exam_remote_commands
type Command struct {
	ID        string          `json:"id" bson:"_id"`                // 唯一标识，格式：cmd-{random}
	SessionID string          `json:"session_id" bson:"session_id"` // 目标会话（创建时必须非 ended）
	Type      CommandType     `json:"type" bson:"type"`
	Payload   json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"` // 形状由 Type 决定
	Status    CommandStatus   `json:"status" bson:"status"`
	Result    json.RawMessage `json:"result,omitempty" bson:"result,omitempty"` // 仅在终态写入
	IssuedBy  string          `json:"issued_by,omitempty" bson:"issued_by,omitempty"`

	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty" bson:"executed_at,omitempty"` // 进入 executing 时写入
}
