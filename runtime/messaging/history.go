package messaging

import "strings"

// TaskIDHintPrefix marks outbound hints that point at a task workflow.
const TaskIDHintPrefix = "taskId:"

// TaskIDHint formats a task pointer hint for outbound messages.
func TaskIDHint(taskID string) string { return TaskIDHintPrefix + taskID }

// Prompt roles produced by BuildPromptHistory.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptMessage is one turn of a model prompt assembled from conversation
// history.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildPromptHistory converts server history (newest first) into an
// oldest-first prompt transcript. Empty texts are dropped, and when the
// newest incoming record repeats the message currently being handled the
// duplicate is removed so the current turn appears only once. Incoming
// records map to the user role, outgoing to the assistant role; anything
// else is skipped.
func BuildPromptHistory(history []HistoryMessage, currentText string) []PromptMessage {
	ordered := make([]HistoryMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Text == "" {
			continue
		}
		ordered = append(ordered, history[i])
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Direction != DirectionIncoming {
			continue
		}
		if ordered[i].Text == currentText {
			ordered = append(ordered[:i], ordered[i+1:]...)
		}
		break
	}
	prompt := make([]PromptMessage, 0, len(ordered))
	for _, m := range ordered {
		switch m.Direction {
		case DirectionIncoming:
			prompt = append(prompt, PromptMessage{Role: RoleUser, Content: m.Text})
		case DirectionOutgoing:
			prompt = append(prompt, PromptMessage{Role: RoleAssistant, Content: m.Text})
		}
	}
	return prompt
}

// LastHint returns the hint of the newest history record carrying one,
// optionally restricted to hints with the given prefix. History is expected
// newest first, as the server returns it.
func LastHint(history []HistoryMessage, prefix string) (string, bool) {
	for _, m := range history {
		if m.Hint == "" || !strings.HasPrefix(m.Hint, prefix) {
			continue
		}
		return m.Hint, true
	}
	return "", false
}

// LastTaskIDHint returns the task id carried by the newest task pointer
// hint, if any.
func LastTaskIDHint(history []HistoryMessage) (string, bool) {
	hint, ok := LastHint(history, TaskIDHintPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(hint, TaskIDHintPrefix), true
}
