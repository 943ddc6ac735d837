/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"strings"
	"sync"
)

// CompositeUnit starts and stops several units as one.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

// Start starts all units concurrently and blocks until every Start call returns or one of them fails.
// On failure, all units are stopped non-gracefully and a CompositeUnitError with the start
// (and stop) errors is sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	type startResult struct {
		index int
		err   error
	}
	results := make(chan startResult, len(cu.Units))
	for i := range cu.Units {
		go func(i int) {
			unitFatalErr := make(chan error, 1)
			cu.Units[i].Start(unitFatalErr)
			select {
			case err := <-unitFatalErr:
				results <- startResult{i, err}
			default:
				results <- startResult{i, nil}
			}
		}(i)
	}

	var errs []error
	for range cu.Units {
		res := <-results
		if res.err == nil {
			continue
		}
		errs = append(errs, res.err)
		break
	}
	if len(errs) == 0 {
		return
	}

	if stopErr := cu.Stop(false); stopErr != nil {
		errs = append(errs, stopErr.(*CompositeUnitError).UnitErrors...)
	}
	// Collect start errors of other units that failed meanwhile.
	for {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			}
			continue
		default:
		}
		break
	}
	fatalError <- &CompositeUnitError{errs}
}

// Stop stops all units concurrently and collects their errors into a single CompositeUnitError.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, u := range cu.Units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			if err := u.Stop(gracefully); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if len(errs) > 0 {
		return &CompositeUnitError{errs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of all units that have them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that have them.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError is an error which may occurs in CompositeUnit's methods.
type CompositeUnitError struct {
	UnitErrors []error
}

// Error returns a string representation of a units composition error.
func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns the errors of the individual units, so errors.Is and errors.As look into them.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
