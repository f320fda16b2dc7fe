// Package discovery finds keyboards reachable over the serial and USB bus
// transports and publishes them as one de-duplicated list.
//
// # Discovery Cycle
//
// One cycle runs both probes concurrently, evaluates every serial candidate
// and merges the results:
//
//  1. SerialProbe asks the SerialProvider for ports matching the catalog's
//     serial signatures. Each candidate carries a path.
//  2. BusProbe lists attached USB descriptors and keeps those matching the
//     catalog's bus identities. These carry no path.
//  3. Checker marks each serial candidate Accessible (it can be opened) and,
//     only when accessible, Supported (firmware matches the catalog entry).
//     Accessible but unsupported candidates are dropped. Inaccessible ones are
//     kept so a permission problem stays visible.
//  4. Merge appends every bus device whose vendor/product pair is not already
//     represented by a serial entry.
//
// A failing probe yields an empty list and a *DiscoveryError; the cycle still
// completes with whatever the other probe found.
//
// # Ordering
//
// Cycles are numbered. Registry publishes a result only if its number is
// greater than that of the last published one, so a slow cycle that finishes
// after a newer cycle is discarded rather than merged.
//
// # Hotplug
//
// Watcher subscribes to the bus provider's attach and detach notifications
// and coalesces bursts into single cycles. Every notification is followed by
// at least one cycle that starts after it.
package discovery
