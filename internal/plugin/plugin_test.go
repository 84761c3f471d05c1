package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
)

type fakeDevice struct{ id string }

func (d fakeDevice) ID() string { return d.id }

type recordingHandler struct {
	name     string
	in, out  []string
	received []*packet.Packet
	failNext bool
}

func (h *recordingHandler) Name() string                 { return h.name }
func (h *recordingHandler) IncomingCapabilities() []string { return h.in }
func (h *recordingHandler) OutgoingCapabilities() []string { return h.out }
func (h *recordingHandler) Init(Device, chan<- Outbound) error { return nil }
func (h *recordingHandler) Start() error                  { return nil }
func (h *recordingHandler) Stop() error                   { return nil }
func (h *recordingHandler) HandlePacket(d Device, p *packet.Packet) error {
	if h.failNext {
		h.failNext = false
		return errors.New("boom")
	}
	h.received = append(h.received, p)
	return nil
}

func TestDispatchIsolatesPluginFailures(t *testing.T) {
	t.Parallel()
	f := New(16)

	p1 := &recordingHandler{name: "p1", in: []string{"cconnect.ping"}, failNext: true}
	p2 := &recordingHandler{name: "p2", in: []string{"cconnect.ping"}}
	f.Register("p1", true, func() Handler { return p1 })
	f.Register("p2", true, func() Handler { return p2 })

	dev := fakeDevice{id: "dev1"}
	f.Connect(dev, []string{"cconnect.ping"})

	pkt, err := packet.New(1, "cconnect.ping", map[string]any{})
	require.NoError(t, err)

	f.Dispatch(dev, pkt)
	require.Len(t, p2.received, 1, "p2 must still receive the packet even though p1 errored")
}

func TestConnectOnlyInstantiatesIntersectingCapabilities(t *testing.T) {
	t.Parallel()
	f := New(16)
	battery := &recordingHandler{name: "battery", in: []string{"cconnect.battery"}}
	f.Register("battery", true, func() Handler { return battery })

	dev := fakeDevice{id: "dev1"}
	f.Connect(dev, []string{"cconnect.ping"}) // peer doesn't support battery

	pkt, _ := packet.New(1, "cconnect.battery", map[string]any{})
	f.Dispatch(dev, pkt)
	require.Empty(t, battery.received, "battery plugin must not be instantiated without capability overlap")
}

func TestDisabledKindNotAdvertised(t *testing.T) {
	t.Parallel()
	f := New(16)
	f.Register("ping", true, func() Handler {
		return &recordingHandler{name: "ping", in: []string{"cconnect.ping"}, out: []string{"cconnect.ping"}}
	})
	f.Register("battery", false, func() Handler {
		return &recordingHandler{name: "battery", in: []string{"cconnect.battery"}, out: []string{"cconnect.battery"}}
	})

	in, out := f.AdvertisedCapabilities()
	require.Contains(t, in, "cconnect.ping")
	require.NotContains(t, in, "cconnect.battery")
	require.NotContains(t, out, "cconnect.battery")
}

func TestDisconnectTearsDownInstances(t *testing.T) {
	t.Parallel()
	f := New(16)
	ping := &recordingHandler{name: "ping", in: []string{"cconnect.ping"}}
	f.Register("ping", true, func() Handler { return ping })

	dev := fakeDevice{id: "dev1"}
	f.Connect(dev, []string{"cconnect.ping"})
	f.Disconnect("dev1")

	pkt, _ := packet.New(1, "cconnect.ping", map[string]any{})
	f.Dispatch(dev, pkt)
	require.Empty(t, ping.received, "no dispatch should reach a handler after disconnect")
}
