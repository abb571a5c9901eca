package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_Basics(t *testing.T) {
	c := NewCounter()
	c.IncViewsBadge()
	c.IncViewsBadge()
	c.IncVisitorsBadge()
	c.IncNewVisitor()

	assert.Equal(t, Window{ViewsBadges: 2, VisitorsBadges: 1, NewVisitors: 1}, c.Current())
	assert.Equal(t, Window{ViewsBadges: 2, VisitorsBadges: 1, NewVisitors: 1}, c.SnapshotAndReset())
	assert.Equal(t, Window{}, c.Current())
	assert.True(t, c.Current().Empty())
}

func TestCounter_Add_IgnoresNonPositive(t *testing.T) {
	c := NewCounter()
	c.Add(Window{ViewsBadges: 0, VisitorsBadges: -10, NewVisitors: 3})
	assert.Equal(t, Window{NewVisitors: 3}, c.Current())
}

func TestCounter_Concurrent(t *testing.T) {
	c := NewCounter()
	const goroutines = 20
	const perG = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				c.IncViewsBadge()
				c.IncNewVisitor()
			}
		}()
	}
	wg.Wait()

	got := c.Current()
	assert.Equal(t, int64(goroutines*perG), got.ViewsBadges)
	assert.Equal(t, int64(goroutines*perG), got.NewVisitors)
	assert.Zero(t, got.VisitorsBadges)
}
