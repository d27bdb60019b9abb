// Package notifier pushes operator alerts for events that should not wait
// for someone to read the logs, unprotected positions above all.
package notifier

import (
	"fmt"

	"trawler/internal/logger"
)

// Notifier delivers a single alert message.
type Notifier interface {
	Alert(text string) error
}

// Noop swallows alerts, used when no channel is configured.
type Noop struct{}

func (Noop) Alert(string) error { return nil }

// Fanout delivers to every configured channel; delivery failures are
// logged, never propagated, an alert must not break the trading cycle.
type Fanout struct {
	targets []Notifier
}

func NewFanout(targets ...Notifier) *Fanout { return &Fanout{targets: targets} }

func (f *Fanout) Alert(text string) error {
	for _, n := range f.targets {
		if err := n.Alert(text); err != nil {
			logger.Errorf("notifier: alert delivery failed: %v", err)
		}
	}
	return nil
}

// ProtectionGap formats the highest-severity alert: a live position with
// no stop on the venue.
func ProtectionGap(symbol, side string, qty, entry float64, attempts int) string {
	return fmt.Sprintf("*UNPROTECTED POSITION*\n%s %s qty=%.8g entry=%.8g\nstop placement failed after %d attempts, manual intervention required",
		symbol, side, qty, entry, attempts)
}

// ExecutionFailed formats an entry-order failure alert.
func ExecutionFailed(symbol, side string, err error) string {
	return fmt.Sprintf("*EXECUTION FAILED*\n%s %s: %v", symbol, side, err)
}
