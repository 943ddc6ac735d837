/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"errors"

	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/service"
)

// Unit is a service unit that periodically reclaims the state of clients whose window has elapsed.
// It also owns the metrics of the policies and releases their resources on stop.
type Unit struct {
	*service.WorkerUnit
	admission *Admission
}

var _ service.Unit = (*Unit)(nil)
var _ service.MetricsRegisterer = (*Unit)(nil)

// NewUnit creates a new Unit.
func NewUnit(a *Admission, logger log.FieldLogger) *Unit {
	worker := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		if n := a.RemoveExpired(); n > 0 {
			logger.Debug("expired rate limiting buckets removed", log.Int("count", n))
		}
		return nil
	}), a.cfg.SweepInterval, logger, service.PeriodicWorkerOpts{Name: "rate-limit-sweeper", InitialDelay: a.cfg.SweepInterval})
	return &Unit{WorkerUnit: service.NewWorkerUnit(worker), admission: a}
}

// Stop stops the sweeper and closes the connection to the shared storage.
func (u *Unit) Stop(gracefully bool) error {
	return errors.Join(u.WorkerUnit.Stop(gracefully), u.admission.Close())
}

// MustRegisterMetrics registers metrics of the policies in Prometheus client and panics if any error occurs.
func (u *Unit) MustRegisterMetrics() {
	u.admission.MustRegisterMetrics()
}

// UnregisterMetrics unregisters metrics of the policies in Prometheus client.
func (u *Unit) UnregisterMetrics() {
	u.admission.UnregisterMetrics()
}
