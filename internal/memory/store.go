package memory

import (
	"errors"
	"sync"
	"time"

	"funchatgo/internal/logger"
	"funchatgo/internal/models"
)

// ErrNoOpenMessage is returned when a continuation delta has nothing to extend.
var ErrNoOpenMessage = errors.New("memory: no open message to extend")

// Store is the ordered history of one conversation.
type Store struct {
	mu       sync.RWMutex
	messages []*models.Message
	nextID   int64
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a finalized message and returns the stored copy.
func (s *Store) Append(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.appendLocked(msg)
}

func (s *Store) appendLocked(msg models.Message) *models.Message {
	m := s.newLocked(msg)
	s.messages = append(s.messages, m)
	return m
}

func (s *Store) newLocked(msg models.Message) *models.Message {
	s.nextID++
	msg.ID = s.nextID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if !msg.Role.Known() {
		logger.Debug("extension role", "role", msg.Role, "id", msg.ID)
	}
	return &msg
}

// InsertResult places msg after the run of function messages holding the
// message with id callID, keeping a result next to its call. Without such a
// message it appends.
func (s *Store) InsertResult(callID int64, msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := -1
	for i, m := range s.messages {
		if m.ID == callID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return *s.appendLocked(msg)
	}
	for pos+1 < len(s.messages) && s.messages[pos+1].Role == models.RoleFunction {
		pos++
	}
	if pos == len(s.messages)-1 {
		return *s.appendLocked(msg)
	}
	m := s.newLocked(msg)
	s.messages = append(s.messages, nil)
	copy(s.messages[pos+2:], s.messages[pos+1:])
	s.messages[pos+1] = m
	return *m
}

// Fold reduces a streamed delta into the history. A delta whose role is set
// and differs from the last message opens a new message, as does a delta
// carrying a different call id. Anything else extends the last message.
// Function results are sealed: a null-role delta after one opens an
// assistant message. Only a null-role delta on an empty store fails.
func (s *Store) Fold(delta models.Delta) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastLocked()
	if last == nil {
		if delta.Role.IsNone() {
			return models.Message{}, ErrNoOpenMessage
		}
		return *s.appendLocked(messageFromDelta(delta)), nil
	}
	if opensMessage(last, delta) {
		return *s.appendLocked(messageFromDelta(delta)), nil
	}
	if last.FunctionResult {
		delta.Role = models.RoleAssistant
		return *s.appendLocked(messageFromDelta(delta)), nil
	}
	last.Content += delta.Content
	if last.Name == "" {
		last.Name = delta.Name
	}
	if last.CallID == "" {
		last.CallID = delta.CallID
	}
	return *last, nil
}

func opensMessage(last *models.Message, delta models.Delta) bool {
	if delta.Role.IsNone() {
		return false
	}
	if delta.Role != last.Role || last.FunctionResult {
		return true
	}
	return delta.CallID != "" && last.CallID != "" && delta.CallID != last.CallID
}

func messageFromDelta(delta models.Delta) models.Message {
	return models.Message{
		Role:    delta.Role,
		Name:    delta.Name,
		Content: delta.Content,
		CallID:  delta.CallID,
	}
}

// Messages returns a copy of the history in conversation order.
func (s *Store) Messages() []models.Message {
	return s.Since(0)
}

// Since returns a copy of the messages from index i onwards.
func (s *Store) Since(i int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 {
		i = 0
	}
	if i >= len(s.messages) {
		return nil
	}
	out := make([]models.Message, 0, len(s.messages)-i)
	for _, m := range s.messages[i:] {
		out = append(out, *m)
	}
	return out
}

// Last returns the open message, if any.
func (s *Store) Last() (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastLocked()
	if last == nil {
		return models.Message{}, false
	}
	return *last, true
}

func (s *Store) lastLocked() *models.Message {
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
