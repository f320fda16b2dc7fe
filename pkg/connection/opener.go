package connection

import (
	"context"
	"fmt"

	"github.com/kbselect/kbselect-go/pkg/discovery"
)

// TransportOpener routes OpenSession to the opener of the device's
// transport. A nil opener rejects devices of its transport.
type TransportOpener struct {
	Serial Opener
	Bus    Opener
}

// OpenSession implements Opener.
func (o TransportOpener) OpenSession(ctx context.Context, dev discovery.Device) (Session, error) {
	var target Opener
	switch dev.Transport.Kind {
	case discovery.TransportSerial:
		target = o.Serial
	case discovery.TransportBus:
		target = o.Bus
	}
	if target == nil {
		return nil, fmt.Errorf("no opener for %s transport", dev.Transport.Kind)
	}
	return target.OpenSession(ctx, dev)
}
