// Package progress records pipeline execution events. Events are
// appended to the shared context and drive the current-agent and
// current-task views during streaming.
package progress

import (
	"fmt"
	"sort"
	"time"
)

// Event types emitted by agents and source clients.
const (
	EventAgentStart     = "agent_start"
	EventAgentComplete  = "agent_complete"
	EventTaskStart      = "task_start"
	EventTaskComplete   = "task_complete"
	EventTaskProgress   = "task_progress"
	EventAPICallStart   = "api_call_start"
	EventAPICallSuccess = "api_call_success"
	EventAPICallFailed  = "api_call_failed"
	EventAPICallSkip    = "api_call_skipped"
)

// Event statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSuccess   = "success"
	StatusSkipped   = "skipped"
)

// Event is a single progress record.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	Agent          string    `json:"agent"`
	EventType      string    `json:"event_type"`
	Message        string    `json:"message"`
	TaskName       string    `json:"task_name,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	Status         string    `json:"status"`
	ExecutionOrder int       `json:"execution_order"`
	IsParallel     bool      `json:"is_parallel"`
	TransactionID  string    `json:"transaction_id,omitempty"`

	// API call events only.
	Integration string `json:"integration,omitempty"`
	DataType    string `json:"data_type,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AgentStart records the beginning of an agent run.
func AgentStart(agent, txnID string, order int) Event {
	return Event{
		Timestamp:      time.Now(),
		Agent:          agent,
		EventType:      EventAgentStart,
		Message:        fmt.Sprintf("→ %s: Starting execution...", agent),
		Status:         StatusRunning,
		ExecutionOrder: order,
		TransactionID:  txnID,
	}
}

// AgentComplete records the end of an agent run with its duration.
func AgentComplete(agent, txnID string, order int, elapsed time.Duration, failed bool) Event {
	status := StatusCompleted
	if failed {
		status = StatusFailed
	}
	return Event{
		Timestamp:      time.Now(),
		Agent:          agent,
		EventType:      EventAgentComplete,
		Message:        fmt.Sprintf("%s: Completed execution (%.2fs)", agent, elapsed.Seconds()),
		Status:         status,
		ExecutionOrder: order,
		TransactionID:  txnID,
	}
}

// TaskStart records the beginning of a sub-task, optionally scoped to a
// symbol.
func TaskStart(agent, task, symbol, txnID string, order int, parallel bool) Event {
	message := fmt.Sprintf("%s: Starting %s...", agent, task)
	if symbol != "" {
		message = fmt.Sprintf("%s: Starting %s for %s...", agent, task, symbol)
	}
	return Event{
		Timestamp:      time.Now(),
		Agent:          agent,
		EventType:      EventTaskStart,
		Message:        message,
		TaskName:       task,
		Symbol:         symbol,
		Status:         StatusRunning,
		ExecutionOrder: order,
		IsParallel:     parallel,
		TransactionID:  txnID,
	}
}

// TaskComplete records the end of a sub-task.
func TaskComplete(agent, task, symbol, txnID string, order int, parallel bool, failed bool) Event {
	message := fmt.Sprintf("%s: Completed %s", agent, task)
	if symbol != "" {
		message = fmt.Sprintf("%s: Completed %s for %s", agent, task, symbol)
	}
	status := StatusCompleted
	if failed {
		status = StatusFailed
	}
	return Event{
		Timestamp:      time.Now(),
		Agent:          agent,
		EventType:      EventTaskComplete,
		Message:        message,
		TaskName:       task,
		Symbol:         symbol,
		Status:         status,
		ExecutionOrder: order,
		IsParallel:     parallel,
		TransactionID:  txnID,
	}
}

// TaskProgress records a mid-task progress note, typically at the start
// of a symbol's parallel fan-out.
func TaskProgress(agent, task, symbol, txnID, message string, order int, parallel bool) Event {
	return Event{
		Timestamp:      time.Now(),
		Agent:          agent,
		EventType:      EventTaskProgress,
		Message:        message,
		TaskName:       task,
		Symbol:         symbol,
		Status:         StatusRunning,
		ExecutionOrder: order,
		IsParallel:     parallel,
		TransactionID:  txnID,
	}
}

// APICallStart records a source API call attempt.
func APICallStart(integration, dataType, symbol, txnID string) Event {
	return Event{
		Timestamp:     time.Now(),
		Agent:         "data_client",
		EventType:     EventAPICallStart,
		Message:       fmt.Sprintf("Calling %s API for %s", integration, symbol),
		Symbol:        symbol,
		Status:        StatusPending,
		Integration:   integration,
		DataType:      dataType,
		TransactionID: txnID,
	}
}

// APICallSuccess records a source API call that returned data.
func APICallSuccess(integration, dataType, symbol, txnID string) Event {
	return Event{
		Timestamp:     time.Now(),
		Agent:         "data_client",
		EventType:     EventAPICallSuccess,
		Message:       fmt.Sprintf("%s API call succeeded for %s", integration, symbol),
		Symbol:        symbol,
		Status:        StatusSuccess,
		Integration:   integration,
		DataType:      dataType,
		TransactionID: txnID,
	}
}

// APICallFailed records a source API call that errored.
func APICallFailed(integration, dataType, symbol, txnID string, callErr error) Event {
	event := Event{
		Timestamp:     time.Now(),
		Agent:         "data_client",
		EventType:     EventAPICallFailed,
		Message:       fmt.Sprintf("%s API call failed for %s", integration, symbol),
		Symbol:        symbol,
		Status:        StatusFailed,
		Integration:   integration,
		DataType:      dataType,
		TransactionID: txnID,
	}
	if callErr != nil {
		event.Error = callErr.Error()
	}
	return event
}

// APICallSkip records a call that was not made because the integration
// is disabled.
func APICallSkip(integration, dataType, symbol, txnID string) Event {
	return Event{
		Timestamp:     time.Now(),
		Agent:         "data_client",
		EventType:     EventAPICallSkip,
		Message:       fmt.Sprintf("%s API call skipped for %s (integration disabled)", integration, symbol),
		Symbol:        symbol,
		Status:        StatusSkipped,
		Integration:   integration,
		DataType:      dataType,
		TransactionID: txnID,
	}
}

// CurrentAgent returns the agent of the most recent agent_start event
// that has no later agent_complete, or "" when nothing is running.
func CurrentAgent(events []Event) string {
	completed := make(map[string]time.Time)
	for _, event := range events {
		if event.EventType == EventAgentComplete {
			if event.Timestamp.After(completed[event.Agent]) {
				completed[event.Agent] = event.Timestamp
			}
		}
	}

	var current string
	var latest time.Time
	for _, event := range events {
		if event.EventType != EventAgentStart {
			continue
		}
		if done, ok := completed[event.Agent]; ok && !done.Before(event.Timestamp) {
			continue
		}
		if event.Timestamp.After(latest) || current == "" {
			current = event.Agent
			latest = event.Timestamp
		}
	}
	return current
}

// CurrentTasks returns, per agent, the task names that have started but
// not completed. Task identity is (agent, task, symbol).
func CurrentTasks(events []Event) map[string][]string {
	type taskKey struct {
		agent, task, symbol string
	}
	open := make(map[taskKey]bool)
	var order []taskKey

	for _, event := range events {
		key := taskKey{event.Agent, event.TaskName, event.Symbol}
		switch event.EventType {
		case EventTaskStart:
			if !open[key] {
				open[key] = true
				order = append(order, key)
			}
		case EventTaskComplete:
			delete(open, key)
		}
	}

	tasks := make(map[string][]string)
	for _, key := range order {
		if open[key] {
			name := key.task
			if key.symbol != "" {
				name = fmt.Sprintf("%s (%s)", key.task, key.symbol)
			}
			tasks[key.agent] = append(tasks[key.agent], name)
		}
	}
	for agent := range tasks {
		sort.Strings(tasks[agent])
	}
	return tasks
}
