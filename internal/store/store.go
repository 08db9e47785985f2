package store

import (
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// CallStore is the in-memory registry of live calls. Reads hand out deep copies;
// all mutation goes through the per-call mutex so two webhook deliveries for the
// same call cannot interleave their read-modify-write cycles.
type CallStore struct {
	calls map[string]*callEntry
	mutex sync.RWMutex
}

type callEntry struct {
	mutex  sync.Mutex
	record *domain.CallRecord
}

// NewCallStore creates an empty call store
func NewCallStore() *CallStore {
	return &CallStore{
		calls: make(map[string]*callEntry),
	}
}

// Create registers a new call in the answered state. It returns false if the
// call is already registered, so duplicate answered events are a no-op.
func (s *CallStore) Create(callID, callerPhone, callerRawID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.calls[callID]; exists {
		logger.Base().Warn("call already registered, ignoring duplicate", zap.String("call_id", callID))
		return false
	}

	s.calls[callID] = &callEntry{
		record: &domain.CallRecord{
			CallID:      callID,
			CallerPhone: callerPhone,
			CallerRawID: callerRawID,
			Status:      domain.CallStatusAnswered,
			StartedAt:   time.Now(),
		},
	}

	logger.Base().Info("call registered",
		zap.String("call_id", callID),
		zap.String("caller_phone", callerPhone),
		zap.Int("active_calls", len(s.calls)))
	return true
}

// Get returns a deep copy of the call record, or nil if the call is not live
func (s *CallStore) Get(callID string) *domain.CallRecord {
	s.mutex.RLock()
	entry, exists := s.calls[callID]
	s.mutex.RUnlock()
	if !exists {
		return nil
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	return copyRecord(entry.record)
}

// WithCall runs fn under the call's mutex, giving it exclusive read-write access
// to the live record. It returns false if the call is not registered.
func (s *CallStore) WithCall(callID string, fn func(rec *domain.CallRecord)) bool {
	s.mutex.RLock()
	entry, exists := s.calls[callID]
	s.mutex.RUnlock()
	if !exists {
		return false
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	fn(entry.record)
	return true
}

// MarkConnected transitions the call to connected. Returns false for unknown calls.
func (s *CallStore) MarkConnected(callID string) bool {
	return s.WithCall(callID, func(rec *domain.CallRecord) {
		rec.Status = domain.CallStatusConnected
	})
}

// AppendMessage appends a transcript turn and trims the history window.
// A user turn identical to the immediately preceding history entry is
// dropped: ACS sometimes delivers the same recognition result twice in a
// row. Once a reply has been spoken in between, the same words are a new
// turn (a caller repeating "yes" after a failed submission must go through).
func (s *CallStore) AppendMessage(callID, role, content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	appended := false
	ok := s.WithCall(callID, func(rec *domain.CallRecord) {
		if role == domain.RoleUser && len(rec.History) > 0 {
			last := rec.History[len(rec.History)-1]
			if last.Role == domain.RoleUser && last.Content == content {
				return
			}
		}

		rec.History = append(rec.History, domain.Message{
			Role:      role,
			Content:   content,
			Timestamp: time.Now(),
		})
		if len(rec.History) > domain.MaxHistoryMessages {
			rec.History = rec.History[len(rec.History)-domain.MaxHistoryMessages:]
		}
		appended = true
	})
	return ok && appended
}

// Remove deletes the call and returns a final deep copy of its record for
// audit persistence. Returns nil if the call was not registered.
func (s *CallStore) Remove(callID string) *domain.CallRecord {
	s.mutex.Lock()
	entry, exists := s.calls[callID]
	if exists {
		delete(s.calls, callID)
	}
	remaining := len(s.calls)
	s.mutex.Unlock()

	if !exists {
		return nil
	}

	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	entry.record.Status = domain.CallStatusDisconnected

	logger.Base().Info("call removed",
		zap.String("call_id", callID),
		zap.Int("active_calls", remaining))
	return copyRecord(entry.record)
}

// Count returns the number of live calls
func (s *CallStore) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.calls)
}

// ActiveCalls returns deep copies of all live call records
func (s *CallStore) ActiveCalls() []*domain.CallRecord {
	s.mutex.RLock()
	entries := make([]*callEntry, 0, len(s.calls))
	for _, entry := range s.calls {
		entries = append(entries, entry)
	}
	s.mutex.RUnlock()

	records := make([]*domain.CallRecord, 0, len(entries))
	for _, entry := range entries {
		entry.mutex.Lock()
		records = append(records, copyRecord(entry.record))
		entry.mutex.Unlock()
	}
	return records
}

// copyRecord creates a deep copy so callers cannot mutate live state.
// Uses github.com/jinzhu/copier so new fields are covered automatically.
func copyRecord(original *domain.CallRecord) *domain.CallRecord {
	if original == nil {
		return nil
	}

	var copied domain.CallRecord
	if err := copier.CopyWithOption(&copied, original, copier.Option{DeepCopy: true}); err != nil {
		logger.Base().Warn("failed to copy call record", zap.Error(err))
		return original
	}
	return &copied
}
