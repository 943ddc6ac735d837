/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/log/logtest"
)

type mockUnit struct {
	name           string
	runningCounter *atomic.Int32
	stopCh         chan struct{}
	stopOnce       sync.Once
	startErr       error
	stopErr        error

	startCalled               atomic.Int32
	stopCalled                atomic.Int32
	stopGracefullyCalled      atomic.Int32
	mustRegisterMetricsCalled atomic.Int32
	unregisterMetricsCalled   atomic.Int32
}

func newMockUnit(name string, runningCounter *atomic.Int32) *mockUnit {
	return &mockUnit{name: name, runningCounter: runningCounter, stopCh: make(chan struct{})}
}

func (u *mockUnit) Start(fatalError chan<- error) {
	u.startCalled.Inc()
	if u.startErr != nil {
		fatalError <- u.startErr
		return
	}
	u.runningCounter.Inc()
	<-u.stopCh
	u.runningCounter.Dec()
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalled.Inc()
	if gracefully {
		u.stopGracefullyCalled.Inc()
	}
	u.stopOnce.Do(func() { close(u.stopCh) })
	return u.stopErr
}

func (u *mockUnit) MustRegisterMetrics() { u.mustRegisterMetricsCalled.Inc() }

func (u *mockUnit) UnregisterMetrics() { u.unregisterMetricsCalled.Inc() }

func TestService_StopBySignal(t *testing.T) {
	var running atomic.Int32
	unit := newMockUnit("server", &running)
	logRecorder := logtest.NewRecorder()
	svc := New(logRecorder, unit)

	done := make(chan error, 1)
	go func() { done <- svc.Start() }()
	require.Eventually(t, func() bool { return running.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, unit.mustRegisterMetricsCalled.Load())

	svc.Signals <- os.Interrupt

	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return running.Load() == 0 }, 3*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, unit.stopGracefullyCalled.Load())
	require.EqualValues(t, 1, unit.unregisterMetricsCalled.Load())
	_, found := logRecorder.FindEntry("service stopped")
	require.True(t, found)
}

func TestService_StopByContext(t *testing.T) {
	var running atomic.Int32
	unit := newMockUnit("server", &running)
	svc := New(log.NewDisabledLogger(), unit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.StartContext(ctx) }()
	require.Eventually(t, func() bool { return running.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.EqualValues(t, 1, unit.stopGracefullyCalled.Load())
}

func TestService_FatalError(t *testing.T) {
	var running atomic.Int32
	unit := newMockUnit("server", &running)
	unit.startErr = errors.New("listen tcp :80: bind: permission denied")

	err := New(log.NewDisabledLogger(), unit).Start()
	require.ErrorIs(t, err, unit.startErr)
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	const unitsNum = 10
	var running atomic.Int32
	var units []Unit
	mocks := make([]*mockUnit, unitsNum)
	for i := 0; i < unitsNum; i++ {
		mocks[i] = newMockUnit(fmt.Sprintf("unit#%d", i), &running)
		if i%2 == 0 {
			mocks[i].stopErr = fmt.Errorf("unit#%d: stop error", i)
		}
		units = append(units, mocks[i])
	}
	cu := NewCompositeUnit(units...)
	cu.MustRegisterMetrics()

	startExit := make(chan struct{})
	go func() {
		defer close(startExit)
		cu.Start(make(chan error, 1))
	}()
	require.Eventually(t, func() bool { return running.Load() == unitsNum }, 3*time.Second, 10*time.Millisecond)

	err := cu.Stop(true)
	var cuErr *CompositeUnitError
	require.ErrorAs(t, err, &cuErr)
	require.Len(t, cuErr.UnitErrors, unitsNum/2)
	require.ErrorIs(t, err, cuErr.UnitErrors[0])

	select {
	case <-startExit:
	case <-time.After(3 * time.Second):
		require.Fail(t, "waiting finish of Start() is timed out")
	}
	require.EqualValues(t, 0, running.Load())
	for _, m := range mocks {
		require.EqualValues(t, 1, m.mustRegisterMetricsCalled.Load())
	}
}

func TestCompositeUnit_StartFailure(t *testing.T) {
	var running atomic.Int32
	healthy := newMockUnit("healthy", &running)
	failing := newMockUnit("failing", &running)
	failing.startErr = errors.New("bind: address already in use")

	fatalErr := make(chan error, 1)
	NewCompositeUnit(healthy, failing).Start(fatalErr)

	err := <-fatalErr
	require.ErrorIs(t, err, failing.startErr)
	require.EqualValues(t, 1, healthy.stopCalled.Load())
	require.EqualValues(t, 0, healthy.stopGracefullyCalled.Load())
}
