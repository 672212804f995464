package connectivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualMonitorNotifiesOnTransitionsOnly(t *testing.T) {
	m := NewManualMonitor(true)

	var calls []bool
	unsubscribe := m.Subscribe(func(online bool) {
		calls = append(calls, online)
	})

	m.SetOnline(true) // steady state, no notification
	assert.Empty(t, calls)

	m.SetOnline(false)
	m.SetOnline(false)
	m.SetOnline(true)
	assert.Equal(t, []bool{false, true}, calls)
	assert.True(t, m.Online())

	unsubscribe()
	m.SetOnline(false)
	assert.Equal(t, []bool{false, true}, calls)
}
