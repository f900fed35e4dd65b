package network

import (
	"context"

	"github.com/kilianp07/hems/core/feeder"
)

// Updater is the home-automation collaborator: it caches entity values
// for feeders and actuates switches.
type Updater interface {
	feeder.Provider
	// Refresh pulls fresh entity values and bumps the revision on success.
	Refresh(ctx context.Context) error
	// SwitchOn asks the device to change state and returns the state it
	// actually reached.
	SwitchOn(node *Switch, on bool) (bool, error)
	// SetValue writes a raw entity value, e.g. a controlled power command.
	SetValue(entity string, value any) error
	// Notify pushes a user-visible message.
	Notify(message string) error
}

// Notifier receives user-visible messages. The notification manager sits
// between the network and Updater.Notify.
type Notifier interface {
	Notify(message string)
}

type updaterNotifier struct{ u Updater }

func (n updaterNotifier) Notify(message string) { _ = n.u.Notify(message) }
