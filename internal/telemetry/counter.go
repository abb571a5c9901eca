package telemetry

import "sync/atomic"

// Window is one reporting window's worth of usage counts.
type Window struct {
	ViewsBadges    int64
	VisitorsBadges int64
	NewVisitors    int64
}

// Empty reports whether nothing happened during the window.
func (w Window) Empty() bool {
	return w.ViewsBadges <= 0 && w.VisitorsBadges <= 0 && w.NewVisitors <= 0
}

// Counter tracks usage counters for the current push window.
type Counter struct {
	viewsBadges    atomic.Int64
	visitorsBadges atomic.Int64
	newVisitors    atomic.Int64
}

// NewCounter allocates a fresh usage counter.
func NewCounter() *Counter {
	return &Counter{}
}

// IncViewsBadge counts one views badge served.
func (c *Counter) IncViewsBadge() {
	c.viewsBadges.Add(1)
}

// IncVisitorsBadge counts one visitors badge served.
func (c *Counter) IncVisitorsBadge() {
	c.visitorsBadges.Add(1)
}

// IncNewVisitor counts one first-time visitor.
func (c *Counter) IncNewVisitor() {
	c.newVisitors.Add(1)
}

// Add merges w back into the counter. Non-positive fields are ignored.
func (c *Counter) Add(w Window) {
	if w.ViewsBadges > 0 {
		c.viewsBadges.Add(w.ViewsBadges)
	}
	if w.VisitorsBadges > 0 {
		c.visitorsBadges.Add(w.VisitorsBadges)
	}
	if w.NewVisitors > 0 {
		c.newVisitors.Add(w.NewVisitors)
	}
}

// SnapshotAndReset atomically returns the current values and resets them.
func (c *Counter) SnapshotAndReset() Window {
	return Window{
		ViewsBadges:    c.viewsBadges.Swap(0),
		VisitorsBadges: c.visitorsBadges.Swap(0),
		NewVisitors:    c.newVisitors.Swap(0),
	}
}

// Current returns the current values without mutating them.
func (c *Counter) Current() Window {
	return Window{
		ViewsBadges:    c.viewsBadges.Load(),
		VisitorsBadges: c.visitorsBadges.Load(),
		NewVisitors:    c.newVisitors.Load(),
	}
}
