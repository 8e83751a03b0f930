package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(name string) *Config {
	cfg := DefaultConfig(name)
	cfg.OnStateChange = nil
	return cfg
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	cfg := quietConfig("test")
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRequests = 1
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 3 }
	cb := New(cfg)

	fail := errors.New("boom")

	// Three consecutive failures open the circuit.
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, fail })
		require.ErrorIs(t, err, fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open circuit rejects without executing.
	ran := false
	_, err := cb.Execute(func() (interface{}, error) { ran = true; return nil, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, ran)

	// After the timeout it half-opens and one success closes it.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	out, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := quietConfig("test")
	cfg.Timeout = 10 * time.Millisecond
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	cb := New(cfg)

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerTripsOnFailureRatio(t *testing.T) {
	// Default trip rule: at least 5 requests with >50% failures.
	cb := New(quietConfig("test"))

	fail := func() (interface{}, error) { return nil, errors.New("boom") }
	ok := func() (interface{}, error) { return nil, nil }

	for _, req := range []func() (interface{}, error){fail, fail, ok, ok} {
		_, _ = cb.Execute(req)
	}
	require.Equal(t, StateClosed, cb.State(), "4 requests at 50% stay closed")

	_, _ = cb.Execute(fail)
	assert.Equal(t, StateOpen, cb.State(), "5th request pushes the ratio past 50%")
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := quietConfig("test")
	cfg.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 3 }
	cb := New(cfg)

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })

	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(3), counts.TotalFailures)
}

func TestManagerHealthStatus(t *testing.T) {
	m := NewManager(quietConfig(""))

	intelCfg := IntelConfig()
	intelCfg.OnStateChange = nil
	intel := m.GetOrCreate("ip-intel", intelCfg)
	m.Get("llm")

	status, states := m.HealthStatus()
	assert.Equal(t, "healthy", status)
	assert.Len(t, states, 2)

	for i := 0; i < 5; i++ {
		_, _ = intel.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	}
	status, states = m.HealthStatus()
	assert.Equal(t, "degraded", status)
	assert.Equal(t, "OPEN", states["ip-intel"])
	assert.Equal(t, "CLOSED", states["llm"])
}

func TestManagerGetReturnsSameInstance(t *testing.T) {
	m := NewManager(quietConfig(""))
	a := m.Get("x")
	b := m.Get("x")
	assert.Same(t, a, b)
	assert.Equal(t, "x", a.Name())
}
