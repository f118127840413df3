package proxy

import (
	"fmt"
	"time"
)

// budgetLedger tracks per-caller spend keyed by period. Period-qualified keys
// make rollover implicit: a new day or month simply reads as zero. Entries
// for past periods are pruned lazily on write.
//
// Not self-locking; the owning proxy serializes access.
type budgetLedger struct {
	daily   map[string]float64
	monthly map[string]float64
}

func newBudgetLedger() *budgetLedger {
	return &budgetLedger{
		daily:   make(map[string]float64),
		monthly: make(map[string]float64),
	}
}

func dailyKey(caller string, now time.Time) string {
	return fmt.Sprintf("%s|%s", caller, now.UTC().Format("2006-01-02"))
}

func monthlyKey(caller string, now time.Time) string {
	return fmt.Sprintf("%s|%s", caller, now.UTC().Format("2006-01"))
}

func (b *budgetLedger) dailySpent(caller string, now time.Time) float64 {
	return b.daily[dailyKey(caller, now)]
}

func (b *budgetLedger) monthlySpent(caller string, now time.Time) float64 {
	return b.monthly[monthlyKey(caller, now)]
}

func (b *budgetLedger) charge(caller string, now time.Time, cost float64) {
	b.daily[dailyKey(caller, now)] += cost
	b.monthly[monthlyKey(caller, now)] += cost
	b.prune(now)
}

// prune drops accumulators for periods that can no longer be read.
func (b *budgetLedger) prune(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	month := now.UTC().Format("2006-01")

	for key := range b.daily {
		if periodOf(key) != day {
			delete(b.daily, key)
		}
	}
	for key := range b.monthly {
		if periodOf(key) != month {
			delete(b.monthly, key)
		}
	}
}

func periodOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[i+1:]
		}
	}
	return ""
}
