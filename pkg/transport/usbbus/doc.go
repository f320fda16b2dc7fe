// Package usbbus is the descriptor-addressed keyboard transport.
//
// Attached devices are read from sysfs (/sys/bus/usb/devices), and hot-plug is
// observed by watching the usbfs device nodes under /dev/bus/usb with
// fsnotify: a node appears when a device is enumerated and disappears when it
// is removed. Both roots are configurable so the provider can run against a
// fixture tree.
package usbbus
