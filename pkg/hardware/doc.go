// Package hardware holds the capability table of known keyboards.
//
// The table answers two questions during discovery:
//
//   - which serial signatures (USB vendor/product pairs exposed as a
//     CDC-ACM tty) identify a keyboard running its normal firmware, and
//   - which bus identities identify a keyboard that is only reachable as a
//     raw USB device, typically while it sits in its bootloader.
//
// A built-in table is available via Default. Deployments can replace it with
// a YAML file:
//
//	serial:
//	  - id: "1209:2301"
//	    vendor: Keyboardio
//	    product: Model01
//	    display_name: Keyboardio Model 01
//	bus:
//	  - id: "1209:2300"
//	    vendor: Keyboardio
//	    product: Model01
//	    display_name: Keyboardio Model 01 (bootloader)
//	    bootloader: true
//
// The table is read-only after construction and safe for concurrent use.
package hardware
