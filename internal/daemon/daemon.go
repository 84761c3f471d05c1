// Package daemon wires every subsystem package into one running process:
// registry, connection manager, plugin fabric, pairing, discovery,
// resource quotas, and recovery, each its own goroutine reporting into a
// shared error channel, following the same run-loop shape as the rest of
// this codebase's long-running services.
package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/certstore"
	"github.com/cosmic-connect/cconnectd/internal/conn"
	"github.com/cosmic-connect/cconnectd/internal/config"
	"github.com/cosmic-connect/cconnectd/internal/discovery"
	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/ipc"
	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/pairing"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
	"github.com/cosmic-connect/cconnectd/internal/plugins/battery"
	"github.com/cosmic-connect/cconnectd/internal/plugins/clipboard"
	"github.com/cosmic-connect/cconnectd/internal/plugins/contacts"
	"github.com/cosmic-connect/cconnectd/internal/plugins/mpris"
	"github.com/cosmic-connect/cconnectd/internal/plugins/notification"
	"github.com/cosmic-connect/cconnectd/internal/plugins/ping"
	"github.com/cosmic-connect/cconnectd/internal/plugins/power"
	"github.com/cosmic-connect/cconnectd/internal/plugins/remotedesktop"
	"github.com/cosmic-connect/cconnectd/internal/plugins/remoteinput"
	"github.com/cosmic-connect/cconnectd/internal/plugins/share"
	"github.com/cosmic-connect/cconnectd/internal/plugins/telephony"
	"github.com/cosmic-connect/cconnectd/internal/recovery"
	"github.com/cosmic-connect/cconnectd/internal/registry"
	"github.com/cosmic-connect/cconnectd/internal/resources"
	"github.com/cosmic-connect/cconnectd/internal/transport"
)

// Daemon owns every subsystem and implements ipc.Backend, the surface the
// host command socket is served over.
type Daemon struct {
	cfg  *config.Config
	self identity.Info
	cert tls.Certificate

	registry  *registry.Registry
	connMgr   *conn.Manager
	pairing   *pairing.Service
	discovery *discovery.Service
	fabric    *plugin.Fabric
	resources *resources.Manager
	retry     *recovery.RetryQueue
	transfers *recovery.TransferStore
	events    *ipc.EventBus

	// hostOutbound carries packets originated by IPC commands (ping, share,
	// notify) rather than a plugin instance reacting to an inbound packet;
	// it is drained into the connection manager alongside the fabric's own
	// outbound channel.
	hostOutbound chan plugin.Outbound

	clipboardStore *clipboard.Store
	contactsStore  *contacts.Store
	players        mpris.PlayerSource
	session        power.SessionManager

	mu               sync.Mutex
	reconnects       map[string]*recovery.ReconnectionStrategy
	reconnectCancels map[string]context.CancelFunc
}

// New assembles every subsystem from cfg and the on-disk state under
// dataDir. It binds the discovery UDP socket (discovery.New does) but no
// TCP listener or IPC socket, and starts none of the daemon's run loops —
// call Run for that.
func New(cfg *config.Config, dataDir string) (*Daemon, error) {
	reg, err := registry.Load(fmt.Sprintf("%s/devices.json", dataDir))
	if err != nil {
		return nil, fmt.Errorf("daemon: load registry: %w", err)
	}

	deviceID, err := loadOrAssignDeviceID(dataDir)
	if err != nil {
		return nil, err
	}
	cert, err := certstore.New(dataDir).LoadOrGenerate(deviceID)
	if err != nil {
		return nil, fmt.Errorf("daemon: load device certificate: %w", err)
	}

	d := &Daemon{
		cfg:              cfg,
		cert:             cert,
		registry:         reg,
		fabric:           plugin.New(256),
		resources:        resources.New(resources.DefaultLimits()),
		retry:            recovery.NewRetryQueue(),
		transfers:        recovery.NewTransferStore(fmt.Sprintf("%s/transfers.json", dataDir), nil),
		events:           ipc.NewEventBus(),
		hostOutbound:     make(chan plugin.Outbound, 64),
		reconnects:       make(map[string]*recovery.ReconnectionStrategy),
		reconnectCancels: make(map[string]context.CancelFunc),
	}
	if err := d.transfers.Init(); err != nil {
		return nil, fmt.Errorf("daemon: restore transfer state: %w", err)
	}

	d.pairing = pairing.New(reg, &packetSender{d: d}, clockwork.NewRealClock())

	if src, err := newPlayerSource(); err != nil {
		slog.Info("daemon: mpris disabled, no session bus", "error", err)
	} else {
		d.players = src
	}
	if mgr, err := newSessionManager(); err != nil {
		slog.Info("daemon: power/lock disabled, no system bus", "error", err)
	} else {
		d.session = mgr
	}

	sel, err := newTransportSelector(cfg)
	if err != nil {
		return nil, fmt.Errorf("daemon: build transport selector: %w", err)
	}
	d.connMgr = conn.New(cert, func() identity.Info { return d.self }, d.onConnEvent, d.onPacket,
		conn.WithPinChecker(d.pairing), conn.WithTransportSelector(sel))

	d.registerPlugins(dataDir)

	incoming, outgoing := d.fabric.AdvertisedCapabilities()
	incoming = append(incoming, pairing.PacketType, identity.PacketType)
	d.self = identity.New(deviceID, hostnameOrDefault(), identity.DeviceDesktop, cfg.Network.DiscoveryPort, incoming, outgoing)

	disco, err := discovery.New(cfg.Network.DiscoveryPort, func() identity.Info { return d.self },
		discovery.WithBroadcastInterval(time.Duration(cfg.Network.DiscoveryInterval)*time.Second),
		discovery.WithDeviceTimeout(time.Duration(cfg.Network.DeviceTimeout)*time.Second))
	if err != nil {
		return nil, fmt.Errorf("daemon: start discovery: %w", err)
	}
	d.discovery = disco

	return d, nil
}

// newTransportSelector builds the transport.Selector the connection
// manager dials through, from the enabled links and configured
// preference/fallback policy in daemon.toml's [transport] section.
func newTransportSelector(cfg *config.Config) (*transport.Selector, error) {
	pref, err := cfg.TransportPreference()
	if err != nil {
		return nil, err
	}
	links := make(map[transport.Kind]transport.Link)
	if cfg.Transport.EnableTCP {
		links[transport.TCP] = transport.TCPLink{
			Timeout: time.Duration(cfg.Transport.TCPTimeoutSecs) * time.Second,
		}
	}
	if cfg.Transport.EnableBluetooth {
		links[transport.Bluetooth] = transport.BluetoothLink{}
	}
	return transport.New(pref, cfg.Transport.AutoFallback, links), nil
}

func (d *Daemon) registerPlugins(dataDir string) {
	enabled := d.cfg.Plugins
	reg := func(kind string, factory plugin.Factory) {
		d.fabric.Register(kind, enabled[kind], factory)
	}

	reg(ping.Kind, ping.New)
	reg(battery.Kind, battery.New)
	reg(share.Kind, share.NewFactory(d.connMgr, share.WithTransferStore(d.transfers)))
	reg(remoteinput.Kind, remoteinput.NewFactory(nil)) // injecting into the host input stack is out of scope
	reg(telephony.Kind, telephony.NewFactory(nil))     // no modem/telephony backend on a desktop host
	reg(remotedesktop.Kind, remotedesktop.NewFactory(nil, nil)) // speaking VNC itself is out of scope
	reg(notification.Kind, notification.NewFactory(d.connMgr, nil, nil))
	reg(mpris.Kind, mpris.NewFactory(d.players))
	reg(power.Kind, power.NewFactory(d.session))

	if store, err := clipboard.OpenStore(fmt.Sprintf("%s/clipboard.db", dataDir)); err == nil {
		d.clipboardStore = store
		reg(clipboard.Kind, clipboard.NewFactory(store, nil))
	} else {
		slog.Warn("daemon: clipboard history disabled, failed to open store", "error", err)
	}

	if store, err := contacts.OpenStore(fmt.Sprintf("%s/contacts.db", dataDir)); err == nil {
		d.contactsStore = store
		reg(contacts.Kind, contacts.NewFactory(store))
	} else {
		slog.Warn("daemon: contacts sync disabled, failed to open store", "error", err)
	}
}

// Run starts every subsystem and the IPC server, blocking until ctx is
// cancelled or any subsystem reports a fatal error.
func (d *Daemon) Run(ctx context.Context, listenAddr, ipcSockPath string) error {
	errCh := make(chan error, 4)

	go func() { errCh <- d.connMgr.ListenAndServe(ctx, listenAddr) }()
	go func() { errCh <- d.discovery.Run(ctx) }()
	go d.consumeDiscoveryEvents(ctx)
	go d.consumeOutbound(ctx)
	go d.runRetryTicker(ctx)
	go d.runTransferCleanupTicker(ctx)

	ipcServer := ipc.New(d, d.events, ipc.WithSockFile(ipcSockPath), ipc.WithBaseContext(ctx))
	go func() { errCh <- ipcServer.ListenAndServeUnix(ctx) }()

	select {
	case <-ctx.Done():
		d.shutdown()
		return nil
	case err := <-errCh:
		d.shutdown()
		return err
	}
}

func (d *Daemon) shutdown() {
	if err := d.registry.Save(); err != nil {
		slog.Warn("daemon: failed to persist registry on shutdown", "error", err)
	}
	if d.clipboardStore != nil {
		d.clipboardStore.Close()
	}
	if d.contactsStore != nil {
		d.contactsStore.Close()
	}
}

func (d *Daemon) consumeOutbound(ctx context.Context) {
	send := func(ob plugin.Outbound) {
		if err := d.connMgr.Send(ob.DeviceID, ob.Packet); err != nil {
			if cerrors.IsRecoverable(err) {
				d.retry.Enqueue(ob.DeviceID, ob.Packet)
				return
			}
			slog.Warn("daemon: dropping outbound packet", "device_id", ob.DeviceID, "packet_type", ob.Packet.Type, "error", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ob := <-d.fabric.Outbound():
			send(ob)
		case ob := <-d.hostOutbound:
			send(ob)
		}
	}
}

func (d *Daemon) runRetryTicker(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.retry.Tick(d.connMgr.Send)
		}
	}
}

// runTransferCleanupTicker reaps finished/abandoned transfer bookkeeping
// older than recovery.TransferMaxAge, on the same ticker-loop shape as
// runRetryTicker.
func (d *Daemon) runTransferCleanupTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.transfers.CleanupOldTransfers(); err != nil {
				slog.Warn("daemon: transfer cleanup sweep failed", "error", err)
			}
		}
	}
}

func (d *Daemon) onConnEvent(e conn.Event) {
	switch e.Kind {
	case conn.EventConnected:
		if _, ok := d.registry.Get(e.DeviceID); !ok {
			d.registry.AddOrUpdate(e.PeerIdentity)
		}
		host, _ := d.connMgr.PeerHost(e.DeviceID)
		if err := d.registry.MarkConnected(e.DeviceID, host, e.PeerIdentity.TCPPort); err != nil {
			slog.Warn("daemon: mark connected failed", "device_id", e.DeviceID, "error", err)
		}
		d.resetReconnect(e.DeviceID)
		d.fabric.Connect(deviceHandle(e.DeviceID), e.PeerIdentity.IncomingCapabilities)
		d.events.Publish(ipc.Event{Kind: ipc.EventDeviceStateChanged, DeviceID: e.DeviceID})

	case conn.EventDisconnected:
		d.fabric.Disconnect(e.DeviceID)
		if err := d.registry.MarkDisconnected(e.DeviceID); err != nil {
			slog.Warn("daemon: mark disconnected failed", "device_id", e.DeviceID, "error", err)
		}
		d.events.Publish(ipc.Event{Kind: ipc.EventDeviceStateChanged, DeviceID: e.DeviceID})
		if e.Reconnect {
			d.scheduleReconnect(e.DeviceID)
		}
	}
}

func (d *Daemon) onPacket(deviceID string, p *packet.Packet) {
	if p.Type == pairing.PacketType {
		fp, _ := d.connMgr.PeerFingerprint(deviceID)
		if err := d.pairing.HandlePairPacket(deviceID, p.Body, fp); err != nil {
			slog.Warn("daemon: pair packet handling failed", "device_id", deviceID, "error", err)
		}
		return
	}
	d.fabric.Dispatch(deviceHandle(deviceID), p)
}

func (d *Daemon) consumeDiscoveryEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.discovery.Events():
			switch e.Kind {
			case discovery.EventDiscovered, discovery.EventUpdated:
				dev := d.registry.AddOrUpdate(e.Info)
				d.events.Publish(ipc.Event{Kind: ipc.EventDeviceAdded, DeviceID: e.Info.DeviceID})
				// Dial every freshly-seen device, trusted or not: an
				// untrusted peer needs a live session before it can send
				// or receive a pair request at all (see PairDevice and
				// pairing.Service.HandlePairPacket). Resource quotas in
				// dialDevice still bound how many of these run at once.
				if dev.ConnectionState == registry.Disconnected {
					d.dialDevice(e.Info.DeviceID, e.Addr.IP.String(), e.Info.TCPPort)
				}
			case discovery.EventTimeout:
				d.events.Publish(ipc.Event{Kind: ipc.EventDeviceRemoved, DeviceID: e.Info.DeviceID})
			}
		}
	}
}

// dialDevice opens a session to a discovered or previously-paired device,
// subject to the resource manager's connection quota. It is used both for
// opportunistic dials to newly-discovered peers (who may still need to
// exchange a pair request) and for the trusted-device reconnect path.
func (d *Daemon) dialDevice(deviceID, host string, port uint16) {
	if err := d.resources.AcquireConnection(deviceID); err != nil {
		slog.Debug("daemon: skipping dial, resources exhausted", "device_id", deviceID, "error", err)
		return
	}
	go func() {
		defer d.resources.ReleaseConnection(deviceID)
		_ = d.registry.MarkConnecting(deviceID, host, port)
		if err := d.connMgr.Dial(context.Background(), host, port); err != nil {
			slog.Debug("daemon: dial failed", "device_id", deviceID, "error", err)
		}
	}()
}

func (d *Daemon) resetReconnect(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reconnects, deviceID)
	if cancel, ok := d.reconnectCancels[deviceID]; ok {
		cancel()
		delete(d.reconnectCancels, deviceID)
	}
}

// scheduleReconnect drives the bounded-backoff redial sequence for a
// trusted device that dropped unexpectedly, stopping silently once the
// strategy's attempt budget is exhausted.
func (d *Daemon) scheduleReconnect(deviceID string) {
	dev, ok := d.registry.Get(deviceID)
	if !ok || !dev.IsTrusted() {
		return
	}

	d.mu.Lock()
	strat, ok := d.reconnects[deviceID]
	if !ok {
		strat = recovery.NewReconnectionStrategy()
		d.reconnects[deviceID] = strat
	}
	delaySeconds, more := strat.NextDelay()
	ctx, cancel := context.WithCancel(context.Background())
	d.reconnectCancels[deviceID] = cancel
	d.mu.Unlock()

	if !more {
		return
	}

	host, port := dev.Host, dev.Port
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(delaySeconds) * time.Second):
		}
		d.dialDevice(deviceID, host, port)
	}()
}

// packetSender adapts conn.Manager's packet-typed Send to pairing.Sender's
// (type, body) shape.
type packetSender struct{ d *Daemon }

func (s *packetSender) Send(deviceID, packetType string, body any) error {
	p, err := packet.New(0, packetType, body)
	if err != nil {
		return err
	}
	return s.d.connMgr.Send(deviceID, p)
}

// deviceHandle is the minimal plugin.Device adapter: plugins see only a
// device id, never a connection or registry handle, by design.
type deviceHandle string

func (h deviceHandle) ID() string { return string(h) }

// ---- ipc.Backend ----

func (d *Daemon) ListDevices() []*registry.Device { return d.registry.All() }

func (d *Daemon) GetDevice(id string) (*registry.Device, bool) { return d.registry.Get(id) }

// PairDevice sends a pair request to id, dialing it first if there is no
// live session — discovery's own dial of a newly seen peer may have
// failed, or the session may have dropped since (a daemon restart forgets
// in-memory sessions entirely), and pairing.Service.RequestPair's Send
// fails outright without one.
func (d *Daemon) PairDevice(id string) error {
	if _, connected := d.connMgr.PeerFingerprint(id); !connected {
		dev, ok := d.registry.Get(id)
		if !ok {
			return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
		}
		if dev.Host == "" {
			return cerrors.UserAction("device has not been discovered on the network yet", nil)
		}
		if err := d.resources.AcquireConnection(id); err != nil {
			return err
		}
		_ = d.registry.MarkConnecting(id, dev.Host, dev.Port)
		err := d.connMgr.Dial(context.Background(), dev.Host, dev.Port)
		d.resources.ReleaseConnection(id)
		if err != nil {
			return fmt.Errorf("dial device before pairing: %w", err)
		}
	}
	return d.pairing.RequestPair(id)
}

func (d *Daemon) AcceptPair(id string) error {
	fp, ok := d.connMgr.PeerFingerprint(id)
	if !ok {
		return cerrors.UserAction("device is not currently connected", nil)
	}
	return d.pairing.Accept(id, fp)
}

func (d *Daemon) RejectPair(id string) error { return d.pairing.Reject(id) }

func (d *Daemon) UnpairDevice(id string) error { return d.pairing.Unpair(id) }

func (d *Daemon) RefreshDiscovery() { d.discovery.Refresh() }

func (d *Daemon) SendPing(id, message string) error {
	return ping.Send(d.hostOutbound, id, message)
}

func (d *Daemon) ShareFile(id, path string) error {
	offer, err := share.OfferFile(d.hostOutbound, id, path, d.cert)
	if err != nil {
		return err
	}
	go func() {
		if err := offer.Serve(context.Background()); err != nil {
			slog.Warn("daemon: file offer side-channel failed", "device_id", id, "error", err)
		}
	}()
	return nil
}

func (d *Daemon) ShareText(id, text string) error {
	return share.SendText(d.hostOutbound, id, text)
}

func (d *Daemon) SendNotification(id, appName, title, body string) error {
	return notification.Send(d.hostOutbound, id, uuid.New().String(), appName, title, body)
}

func (d *Daemon) GetBatteryStatus(id string) (ipc.BatteryStatus, error) {
	status, ok := battery.LastStatus(id)
	if !ok {
		return ipc.BatteryStatus{}, cerrors.New(cerrors.KindUserAction, "no battery status received yet", cerrors.ErrUnknownDevice)
	}
	return ipc.BatteryStatus{ChargePercent: status.ChargePercent, IsCharging: status.IsCharging, Low: status.Low}, nil
}

func (d *Daemon) MPRISPlayers(id string) ([]string, error) {
	if d.players == nil {
		return nil, cerrors.Internal("mpris unavailable", nil)
	}
	return d.players.Players(), nil
}

func (d *Daemon) MPRISControl(id, player, action string) error {
	if d.players == nil {
		return cerrors.Internal("mpris unavailable", nil)
	}
	return d.players.Control(player, action)
}

func (d *Daemon) MPRISSetVolume(id, player string, volume float64) error {
	if d.players == nil {
		return cerrors.Internal("mpris unavailable", nil)
	}
	return d.players.SetVolume(player, volume)
}

func (d *Daemon) MPRISSeek(id, player string, offsetMicros int64) error {
	if d.players == nil {
		return cerrors.Internal("mpris unavailable", nil)
	}
	return d.players.Seek(player, offsetMicros)
}
