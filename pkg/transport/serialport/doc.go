// Package serialport is the path-addressed keyboard transport.
//
// Ports are enumerated with go.bug.st/serial/enumerator and matched on their
// USB vendor/product pair. Support is established by asking the firmware for
// its version over the line protocol: a command is a line terminated by '\n'
// and the reply ends with a line holding a single '.':
//
//	> version
//	< v1.99.8\r\n.\r\n
package serialport
