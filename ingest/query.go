package ingest

import (
	"github.com/metachris/mevguard/common"
)

func (p *Pipeline) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *Pipeline) IsActive() bool {
	return p.Mode() != ModeInactive
}

// Subscribe returns a bounded event stream. Events are dropped for a subscriber whose buffer is full.
func (p *Pipeline) Subscribe(buffer int) *common.Subscription[Event] {
	return p.events.Subscribe(buffer)
}

// GetRecentAttacks returns up to limit attack records, newest first (limit <= 0 for all)
func (p *Pipeline) GetRecentAttacks(limit int) []*common.AttackRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attacks.Latest(limit)
}

func (p *Pipeline) GetAttackStatistics() common.AttackStatistics {
	p.mu.Lock()
	records := p.attacks.Items()
	p.mu.Unlock()
	return common.ComputeAttackStatistics(records)
}

// Snapshot returns the observation window, oldest first
func (p *Pipeline) Snapshot() []*common.PendingTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window.Items()
}

func (p *Pipeline) Status() *Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}
