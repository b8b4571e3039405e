package models

import "time"

// CommandType identifies a browser action.
type CommandType string

const (
	CmdNavigate        CommandType = "navigate"
	CmdClick           CommandType = "click"
	CmdType            CommandType = "type"
	CmdScreenshot      CommandType = "screenshot"
	CmdGetTitle        CommandType = "getTitle"
	CmdGetURL          CommandType = "getUrl"
	CmdGetText         CommandType = "getText"
	CmdGetAttribute    CommandType = "getAttribute"
	CmdWaitForElement  CommandType = "waitForElement"
	CmdEvaluate        CommandType = "evaluate"
	CmdScroll          CommandType = "scroll"
	CmdClickCoordinate CommandType = "click_coordinate"
	CmdHoverCoordinate CommandType = "hover_coordinate"
	CmdGetPageElements CommandType = "get_page_elements"
	CmdGetPageText     CommandType = "get_text"
	CmdKeyPress        CommandType = "key_press"
	CmdTypeText        CommandType = "type_text"
	CmdKeyboardInput   CommandType = "keyboard_input"
)

// CommandStatus represents the lifecycle state of a command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSent      CommandStatus = "sent"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandCancelled CommandStatus = "cancelled"
)

// CommandSpec is the caller-supplied description of one browser action.
type CommandSpec struct {
	Type    CommandType            `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Timeout time.Duration          `json:"timeout,omitempty"`
}

// CommandResult is the terminal outcome of a command.
type CommandResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// CommandRecord is the audit entry kept on the session for every
// submitted command. The result, once stored, is never mutated.
type CommandRecord struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"sessionId"`
	Type       CommandType            `json:"type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Status     CommandStatus          `json:"status"`
	Result     *CommandResult         `json:"result,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	ResolvedAt time.Time              `json:"resolvedAt,omitempty"`
}
