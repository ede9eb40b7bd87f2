package ai

import (
	"fmt"

	"github.com/cloudwego/eino/schema"

	"funchatgo/internal/models"
)

const missingResultContent = "error: no result was produced for this call"

// ToSchemaMessages converts history into provider messages. Consecutive
// function calls become one assistant message with tool calls, answered by
// tool messages placed directly after it. A result carrying a call id is
// attached to that call wherever it sits in the history. A call left without
// a result is answered with an error so the provider accepts the history.
func ToSchemaMessages(history []models.Message) []*schema.Message {
	c := &converter{answered: make(map[string]bool), results: resultsByCallID(history)}
	for i := range history {
		c.add(&history[i])
	}
	c.flush()
	return c.out
}

type converter struct {
	out      []*schema.Message
	pending  *schema.Message
	answered map[string]bool
	results  map[string]string
	lastCall bool
}

// resultsByCallID indexes the first result of every call that has an id.
func resultsByCallID(history []models.Message) map[string]string {
	calls := make(map[string]bool)
	for i := range history {
		if history[i].IsFunctionCall() && history[i].CallID != "" {
			calls[history[i].CallID] = true
		}
	}
	results := make(map[string]string)
	for i := range history {
		m := &history[i]
		if !m.FunctionResult || !calls[m.CallID] {
			continue
		}
		if _, ok := results[m.CallID]; !ok {
			results[m.CallID] = m.Content
		}
	}
	return results
}

func (c *converter) add(msg *models.Message) {
	switch {
	case msg.IsFunctionCall():
		id := msg.CallID
		if id == "" {
			id = fmt.Sprintf("call_%d", msg.ID)
		}
		tc := schema.ToolCall{
			ID:   id,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      msg.Name,
				Arguments: msg.Content,
			},
		}
		if c.pending == nil || !c.lastCall {
			c.flush()
			c.pending = &schema.Message{Role: schema.Assistant}
			c.out = append(c.out, c.pending)
		}
		c.pending.ToolCalls = append(c.pending.ToolCalls, tc)
		c.lastCall = true
		return
	case msg.Role == models.RoleFunction:
		if _, ok := c.results[msg.CallID]; ok {
			// emitted with its call by flush
			return
		}
		id := c.resultID(msg)
		c.answered[id] = true
		c.out = append(c.out, &schema.Message{Role: schema.Tool, Content: msg.Content, ToolCallID: id})
	case msg.Role == models.RoleSystem:
		c.flush()
		c.out = append(c.out, schema.SystemMessage(msg.Content))
	case msg.Role == models.RoleAssistant:
		c.flush()
		c.out = append(c.out, schema.AssistantMessage(msg.Content, nil))
	default:
		// user and extension roles
		c.flush()
		c.out = append(c.out, schema.UserMessage(msg.Content))
	}
	c.lastCall = false
}

// resultID matches a result to its call, falling back to the first
// unanswered call with the same name.
func (c *converter) resultID(msg *models.Message) string {
	if msg.CallID != "" {
		return msg.CallID
	}
	if c.pending != nil {
		for _, tc := range c.pending.ToolCalls {
			if tc.Function.Name == msg.Name && !c.answered[tc.ID] {
				return tc.ID
			}
		}
	}
	return fmt.Sprintf("call_%d", msg.ID)
}

func (c *converter) flush() {
	if c.pending == nil {
		return
	}
	for _, tc := range c.pending.ToolCalls {
		if c.answered[tc.ID] {
			continue
		}
		content, ok := c.results[tc.ID]
		if !ok {
			content = missingResultContent
		}
		c.out = append(c.out, &schema.Message{Role: schema.Tool, Content: content, ToolCallID: tc.ID})
		c.answered[tc.ID] = true
	}
	c.pending = nil
}
