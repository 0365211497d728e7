package notify

import (
	"context"
	"sync"

	"github.com/metachris/mevguard/common"
)

// MockNotifier records every call and returns the configured error
type MockNotifier struct {
	mu            sync.RWMutex
	attacks       []*common.AttackRecord
	opportunities []*common.OpportunityRecord
	err           error
	panicMsg      string
	calls         chan struct{}
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{calls: make(chan struct{}, 1024)}
}

// SetError makes every subsequent call fail with err
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes every subsequent call panic
func (m *MockNotifier) SetPanic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

func (m *MockNotifier) NotifyAttack(ctx context.Context, record *common.AttackRecord) error {
	m.mu.Lock()
	m.attacks = append(m.attacks, record)
	err, panicMsg := m.err, m.panicMsg
	m.mu.Unlock()

	m.signal()
	if panicMsg != "" {
		panic(panicMsg)
	}
	return err
}

func (m *MockNotifier) NotifyOpportunity(ctx context.Context, record *common.OpportunityRecord) error {
	m.mu.Lock()
	m.opportunities = append(m.opportunities, record)
	err, panicMsg := m.err, m.panicMsg
	m.mu.Unlock()

	m.signal()
	if panicMsg != "" {
		panic(panicMsg)
	}
	return err
}

func (m *MockNotifier) signal() {
	select {
	case m.calls <- struct{}{}:
	default:
	}
}

// Calls receives one value per notifier call
func (m *MockNotifier) Calls() <-chan struct{} {
	return m.calls
}

func (m *MockNotifier) Attacks() []*common.AttackRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*common.AttackRecord, len(m.attacks))
	copy(res, m.attacks)
	return res
}

func (m *MockNotifier) Opportunities() []*common.OpportunityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*common.OpportunityRecord, len(m.opportunities))
	copy(res, m.opportunities)
	return res
}
