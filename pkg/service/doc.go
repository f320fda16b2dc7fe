// Package service ties discovery and the connection controller together for a
// presentation layer.
//
// A Service owns a discovery.Manager and a connection.Controller. It keeps a
// selection index into the current discovery result, preselecting the
// connected device or, after a restart, the device that was connected last.
// It tears the session down when the connected device disappears from
// discovery.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Discovery.Serial = serialport.New(serialport.DefaultConfig())
//	cfg.Discovery.Bus = usbbus.New(usbbus.DefaultConfig())
//	cfg.Connection.Opener = connection.TransportOpener{Serial: ..., Bus: ...}
//
//	svc, err := service.New(cfg)
//	svc.Start()
//	defer svc.Stop()
//
//	found, _ := svc.Scan(ctx)
//	if found {
//		_ = svc.ConnectSelected(ctx)
//	}
//
// # Events
//
// Handlers registered with OnEvent are called asynchronously for device list
// changes, selection changes and session transitions.
package service
