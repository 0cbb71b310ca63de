package relay

import "errors"

// 中继层的领域错误。HTTP 层据此映射状态码：
// ErrSessionEnded → 409，ErrInvalidTransition → 409，
// ErrUnknownCommandType / ErrInvalidPayload → 400。
var (
	ErrSessionEnded       = errors.New("session already ended")
	ErrInvalidTransition  = errors.New("invalid command status transition")
	ErrUnknownCommandType = errors.New("unknown command type")
	ErrInvalidPayload     = errors.New("invalid command payload")
)
