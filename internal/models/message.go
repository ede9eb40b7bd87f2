package models

import "time"

// Role tags the author of a message. Values outside the known set are
// extension roles and are carried verbatim.
type Role string

const (
	RoleNone      Role = ""
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Known reports whether r is one of the built-in roles.
func (r Role) Known() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction:
		return true
	default:
		return false
	}
}

// IsNone reports whether the role is unset, i.e. a continuation fragment.
func (r Role) IsNone() bool {
	return r == RoleNone
}

// Delta is one streamed chunk of model output.
type Delta struct {
	Role    Role   `json:"role,omitempty"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
	CallID  string `json:"call_id,omitempty"`
}

// Message captures a finalized entry in a conversation history.
type Message struct {
	ID             int64     `json:"id"`
	Role           Role      `json:"role"`
	Name           string    `json:"name,omitempty"`
	Content        string    `json:"content"`
	CallID         string    `json:"call_id,omitempty"`
	FunctionResult bool      `json:"function_result,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsFunctionCall reports whether m holds the arguments of a function call.
func (m *Message) IsFunctionCall() bool {
	return m != nil && m.Role == RoleFunction && !m.FunctionResult
}

// Delta returns the message as a single delta.
func (m *Message) Delta() Delta {
	return Delta{Role: m.Role, Name: m.Name, Content: m.Content, CallID: m.CallID}
}
