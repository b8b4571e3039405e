package models

// Wire message types exchanged over the duplex connection.
const (
	MsgRegister      = "register"
	MsgRegistered    = "registered"
	MsgCommand       = "command"
	MsgCommandResult = "command_result"
	MsgPing          = "ping"
	MsgPong          = "pong"
	MsgCancelCommand = "cancel_command"
	MsgStatusUpdate  = "status_update"
	MsgError         = "error"
)

// Message is the envelope for every frame on the duplex connection.
// The Type field discriminates; other fields are populated per type.
type Message struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"sessionId,omitempty"`
	CommandID   string                 `json:"commandId,omitempty"`
	CommandType CommandType            `json:"commandType,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	TimeoutMs   int64                  `json:"timeoutMs,omitempty"`
	Success     *bool                  `json:"success,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Status      string                 `json:"status,omitempty"`
}
