package ai

import (
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"funchatgo/internal/models"
)

// deltaReader turns eino message chunks into deltas. A role is stated only
// when it changes. Tool calls are keyed by their stream index and assumed to
// arrive one after another.
type deltaReader struct {
	reader   *schema.StreamReader[*schema.Message]
	pending  []models.Delta
	lastRole models.Role
	calls    map[int]string
}

func newDeltaReader(reader *schema.StreamReader[*schema.Message]) *deltaReader {
	return &deltaReader{reader: reader, calls: make(map[int]string)}
}

func (r *deltaReader) Recv() (models.Delta, error) {
	for len(r.pending) == 0 {
		chunk, err := r.reader.Recv()
		if err != nil {
			return models.Delta{}, err
		}
		r.pending = r.convert(chunk)
	}
	d := r.pending[0]
	r.pending = r.pending[1:]
	return d, nil
}

func (r *deltaReader) Close() {
	r.reader.Close()
}

func (r *deltaReader) convert(chunk *schema.Message) []models.Delta {
	if chunk == nil {
		return nil
	}
	var out []models.Delta
	if chunk.Content != "" {
		d := models.Delta{Content: chunk.Content}
		if r.lastRole != models.RoleAssistant {
			d.Role = models.RoleAssistant
			r.lastRole = models.RoleAssistant
		}
		out = append(out, d)
	}
	for i, tc := range chunk.ToolCalls {
		key := i
		if tc.Index != nil {
			key = *tc.Index
		}
		if r.isNewCall(key, tc) {
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			r.calls[key] = id
			r.lastRole = models.RoleFunction
			out = append(out, models.Delta{
				Role:    models.RoleFunction,
				Name:    tc.Function.Name,
				CallID:  id,
				Content: tc.Function.Arguments,
			})
			continue
		}
		if tc.Function.Arguments != "" {
			out = append(out, models.Delta{Content: tc.Function.Arguments})
		}
	}
	return out
}

func (r *deltaReader) isNewCall(key int, tc schema.ToolCall) bool {
	id, seen := r.calls[key]
	if !seen {
		return true
	}
	if tc.ID != "" && tc.ID != id {
		return true
	}
	// Providers that omit the index send every call whole.
	return tc.Index == nil && tc.Function.Name != ""
}
