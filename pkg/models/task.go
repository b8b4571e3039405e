package models

import "time"

// ActionRecord records one executed action and its outcome.
type ActionRecord struct {
	Command   CommandSpec    `json:"command"`
	Result    *CommandResult `json:"result,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskResult is the full trace of one natural-language task run.
type TaskResult struct {
	TaskID           string         `json:"taskId"`
	SessionID        string         `json:"sessionId"`
	Instruction      string         `json:"instruction"`
	Iterations       int            `json:"iterations"`
	Actions          []ActionRecord `json:"actions"`
	Narrative        string         `json:"narrative"`
	Success          bool           `json:"success"`
	StartedAt        time.Time      `json:"startedAt"`
	FinishedAt       time.Time      `json:"finishedAt"`
	BeforeScreenshot string         `json:"beforeScreenshot,omitempty"` // base64 PNG
	AfterScreenshot  string         `json:"afterScreenshot,omitempty"`  // base64 PNG
}
