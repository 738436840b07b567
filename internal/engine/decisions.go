package engine

import (
	"sync"

	"github.com/sentinelbist/sentinel/internal/models"
)

// recentDecisionLimit bounds the decision history served by the API.
const recentDecisionLimit = 200

// decisionLog is a bounded ring of recent decisions.
type decisionLog struct {
	mu    sync.Mutex
	buf   []models.Decision
	next  int
	count int
}

func newDecisionLog(capacity int) *decisionLog {
	return &decisionLog{buf: make([]models.Decision, capacity)}
}

func (l *decisionLog) Add(d models.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = d
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// Recent returns decisions newest first.
func (l *decisionLog) Recent() []models.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Decision, 0, l.count)
	for i := 1; i <= l.count; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}
