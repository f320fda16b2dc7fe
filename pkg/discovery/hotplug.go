package discovery

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// HotplugAction is a bus attach or detach.
type HotplugAction uint8

const (
	// HotplugAttach indicates a device arrived.
	HotplugAttach HotplugAction = iota

	// HotplugDetach indicates a device left.
	HotplugDetach
)

// String returns the action name.
func (a HotplugAction) String() string {
	switch a {
	case HotplugAttach:
		return "ATTACH"
	case HotplugDetach:
		return "DETACH"
	default:
		return "UNKNOWN"
	}
}

// HotplugEvent is one attach/detach notification.
type HotplugEvent struct {
	Action     HotplugAction
	Descriptor Descriptor
	At         time.Time
}

// Watcher turns bus attach/detach notifications into discovery triggers.
//
// Notifications are coalesced into a single pending slot: a burst yields at
// least one trigger, and a notification arriving after the slot was drained
// refills it, so none is lost.
type Watcher struct {
	attach  Subscription
	detach  Subscription
	pending chan struct{}
	onEvent func(HotplugEvent)

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWatcher registers attach and detach listeners on bus. onEvent, if not
// nil, is called for every notification before the trigger is raised.
// If either registration fails, nothing stays registered.
func NewWatcher(bus BusProvider, onEvent func(HotplugEvent)) (*Watcher, error) {
	w := &Watcher{
		pending: make(chan struct{}, 1),
		onEvent: onEvent,
	}

	attach, err := bus.OnAttach(func(d Descriptor) { w.notify(HotplugAttach, d) })
	if err != nil {
		return nil, fmt.Errorf("register attach listener: %w", err)
	}
	detach, err := bus.OnDetach(func(d Descriptor) { w.notify(HotplugDetach, d) })
	if err != nil {
		closeErr := attach.Close()
		return nil, errors.Join(fmt.Errorf("register detach listener: %w", err), closeErr)
	}

	w.attach = attach
	w.detach = detach
	return w, nil
}

func (w *Watcher) notify(action HotplugAction, d Descriptor) {
	if w.closed.Load() {
		return
	}
	if w.onEvent != nil {
		w.onEvent(HotplugEvent{Action: action, Descriptor: d, At: time.Now()})
	}
	select {
	case w.pending <- struct{}{}:
	default:
		// A trigger is already pending.
	}
}

// Pending delivers one value per coalesced burst of notifications.
func (w *Watcher) Pending() <-chan struct{} {
	return w.pending
}

// Close deregisters both listeners. Calling Close more than once returns the
// first result.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.closeErr = errors.Join(w.attach.Close(), w.detach.Close())
	})
	return w.closeErr
}
