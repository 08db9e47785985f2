package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicedesk/voicequote/internal/domain"
)

func TestCreateDuplicateIsNoOp(t *testing.T) {
	s := NewCallStore()

	assert.True(t, s.Create("call-1", "+15550001", "4:+15550001"))
	assert.False(t, s.Create("call-1", "+15550001", "4:+15550001"))
	assert.Equal(t, 1, s.Count())
}

func TestGetReturnsDeepCopy(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")
	s.AppendMessage("call-1", domain.RoleUser, "hello")

	rec := s.Get("call-1")
	require.NotNil(t, rec)
	rec.History[0].Content = "mutated"
	rec.Status = domain.CallStatusDisconnected

	fresh := s.Get("call-1")
	assert.Equal(t, "hello", fresh.History[0].Content)
	assert.Equal(t, domain.CallStatusAnswered, fresh.Status)
}

func TestGetUnknownCall(t *testing.T) {
	s := NewCallStore()
	assert.Nil(t, s.Get("nope"))
	assert.False(t, s.MarkConnected("nope"))
	assert.Nil(t, s.Remove("nope"))
}

func TestHistoryWindowCap(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")

	for i := 0; i < 15; i++ {
		s.AppendMessage("call-1", domain.RoleUser, fmt.Sprintf("message %d", i))
		s.AppendMessage("call-1", domain.RoleAssistant, fmt.Sprintf("reply %d", i))
	}

	rec := s.Get("call-1")
	require.Len(t, rec.History, domain.MaxHistoryMessages)
	// Oldest entries were dropped, newest retained
	assert.Equal(t, "reply 14", rec.History[len(rec.History)-1].Content)
}

func TestDuplicateUserTurnDropped(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")

	assert.True(t, s.AppendMessage("call-1", domain.RoleUser, "two widgets please"))
	assert.False(t, s.AppendMessage("call-1", domain.RoleUser, "two widgets please"))
	assert.True(t, s.AppendMessage("call-1", domain.RoleAssistant, "noted"))
	// Same words after a spoken reply are a deliberate repetition, not a
	// duplicated webhook delivery
	assert.True(t, s.AppendMessage("call-1", domain.RoleUser, "two widgets please"))

	rec := s.Get("call-1")
	require.Len(t, rec.History, 3)
	assert.Equal(t, domain.RoleUser, rec.History[2].Role)
}

func TestEmptyMessageIgnored(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")

	assert.False(t, s.AppendMessage("call-1", domain.RoleUser, "   "))
	assert.Empty(t, s.Get("call-1").History)
}

func TestRemoveReturnsFinalRecord(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")
	s.AppendMessage("call-1", domain.RoleUser, "hello")

	rec := s.Remove("call-1")
	require.NotNil(t, rec)
	assert.Equal(t, domain.CallStatusDisconnected, rec.Status)
	assert.Len(t, rec.History, 1)
	assert.Equal(t, 0, s.Count())
	assert.Nil(t, s.Get("call-1"))
}

func TestWithCallMutation(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")

	ok := s.WithCall("call-1", func(rec *domain.CallRecord) {
		rec.Quote = &domain.QuoteState{
			Extracted:  domain.ExtractedFields{CustomerName: "Alice"},
			IsComplete: false,
		}
	})
	require.True(t, ok)

	rec := s.Get("call-1")
	require.NotNil(t, rec.Quote)
	assert.Equal(t, "Alice", rec.Quote.Extracted.CustomerName)
}

func TestConcurrentAppends(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.AppendMessage("call-1", domain.RoleAssistant, fmt.Sprintf("turn %d", n))
		}(i)
	}
	wg.Wait()

	rec := s.Get("call-1")
	assert.Len(t, rec.History, domain.MaxHistoryMessages)
}

func TestActiveCalls(t *testing.T) {
	s := NewCallStore()
	s.Create("call-1", "+15550001", "")
	s.Create("call-2", "+15550002", "")

	records := s.ActiveCalls()
	assert.Len(t, records, 2)
}
