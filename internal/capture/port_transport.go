package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"

	"github.com/dgnsrekt/sportscaster/internal/messages"
	"github.com/dgnsrekt/sportscaster/internal/relay"
)

// ErrNotDelivered is returned when the receiving endpoint dropped a frame.
var ErrNotDelivered = errors.New("capture: frame not delivered")

// PortTransport sends frames as FRAME messages over the bus, the way the
// page pushes previews to the side panel.
type PortTransport struct {
	bus   *relay.Bus
	from  relay.Endpoint
	to    relay.Endpoint
	tabID string

	closed atomic.Bool
}

func NewPortTransport(bus *relay.Bus, from, to relay.Endpoint, tabID string) *PortTransport {
	return &PortTransport{bus: bus, from: from, to: to, tabID: tabID}
}

func (t *PortTransport) IsOpen() bool {
	return !t.closed.Load() && t.bus.Registered(t.to)
}

func (t *PortTransport) SendFrame(_ context.Context, f FrameSample) error {
	d := t.bus.Send(relay.Envelope{
		From:  t.from,
		To:    t.to,
		TabID: t.tabID,
		Msg: messages.Frame{
			Data:      base64.StdEncoding.EncodeToString(f.JPEG),
			Timestamp: f.CapturedAt.UnixMilli(),
		},
	})
	if !d.OK() {
		return ErrNotDelivered
	}
	return nil
}

// Close marks the port closed. Ports have no terminal message.
func (t *PortTransport) Close() error {
	t.closed.Store(true)
	return nil
}
