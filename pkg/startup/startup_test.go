package startup

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestStartRespectsDeclaredOrder(t *testing.T) {
	var started []string
	s := New(testLogger(), 1)
	s.Add(Func{Name: "pipeline", Requires: []string{"database"}, StartFn: func(context.Context) error {
		started = append(started, "pipeline")
		return nil
	}})
	s.Add(Func{Name: "database", StartFn: func(context.Context) error {
		started = append(started, "database")
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"database", "pipeline"}, started)
}

func TestStartRetriesAndGivesUp(t *testing.T) {
	attempts := 0
	s := New(testLogger(), 2)
	s.Add(Func{Name: "flaky", StartFn: func(context.Context) error {
		attempts++
		return errors.New("boom")
	}})

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestStartFailsOnUnknownRequirement(t *testing.T) {
	s := New(testLogger(), 1)
	s.Add(Func{Name: "a", Requires: []string{"missing"}})

	assert.Error(t, s.Start(context.Background()))
}

func TestStopReversesOrderAndSkipsUnstarted(t *testing.T) {
	var stopped []string
	s := New(testLogger(), 1)
	s.Add(Func{Name: "first", StopFn: func(context.Context) error {
		stopped = append(stopped, "first")
		return nil
	}})
	s.Add(Func{Name: "second", StopFn: func(context.Context) error {
		stopped = append(stopped, "second")
		return nil
	}})

	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())

	assert.Equal(t, []string{"second", "first"}, stopped)
}

func TestStopContinuesPastErrors(t *testing.T) {
	var stopped []string
	s := New(testLogger(), 1)
	s.Add(Func{Name: "first", StopFn: func(context.Context) error {
		stopped = append(stopped, "first")
		return nil
	}})
	s.Add(Func{Name: "broken", StopFn: func(context.Context) error {
		return errors.New("boom")
	}})

	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())

	assert.Equal(t, []string{"first"}, stopped)
}
