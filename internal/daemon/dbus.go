package daemon

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-connect/cconnectd/internal/plugins/mpris"
)

// sessionManager drives org.freedesktop.login1 over the system bus,
// satisfying plugins/power.SessionManager. A host with no system bus gets
// no sessionManager, and the power plugin then ignores its packets; on a
// host with a system bus but no logind, a failed login1 call returns its
// error, which the power plugin reports as a dispatch error.
type sessionManager struct {
	conn *dbus.Conn
}

func newSessionManager() (*sessionManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &sessionManager{conn: conn}, nil
}

func (m *sessionManager) session() dbus.BusObject {
	return m.conn.Object("org.freedesktop.login1", dbus.ObjectPath("/org/freedesktop/login1/session/auto"))
}

func (m *sessionManager) IsLocked() (bool, error) {
	variant, err := m.session().GetProperty("org.freedesktop.login1.Session.LockedHint")
	if err != nil {
		return false, fmt.Errorf("read LockedHint: %w", err)
	}
	locked, ok := variant.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected LockedHint type %T", variant.Value())
	}
	return locked, nil
}

func (m *sessionManager) Lock() error {
	return m.session().Call("org.freedesktop.login1.Session.Lock", 0).Err
}

func (m *sessionManager) Unlock() error {
	return m.session().Call("org.freedesktop.login1.Session.Unlock", 0).Err
}

// playerSource enumerates org.mpris.MediaPlayer2.* session-bus names and
// queries each one's Player interface, satisfying plugins/mpris.PlayerSource.
type playerSource struct {
	conn *dbus.Conn
}

func newPlayerSource() (*playerSource, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &playerSource{conn: conn}, nil
}

const mprisPrefix = "org.mpris.MediaPlayer2."

func (p *playerSource) Players() []string {
	var names []string
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil
	}
	var players []string
	for _, n := range names {
		if strings.HasPrefix(n, mprisPrefix) {
			players = append(players, strings.TrimPrefix(n, mprisPrefix))
		}
	}
	return players
}

func (p *playerSource) player(name string) dbus.BusObject {
	return p.conn.Object(mprisPrefix+name, "/org/mpris/MediaPlayer2")
}

func (p *playerSource) State(name string) (mpris.PlayerState, bool) {
	obj := p.player(name)
	metadata, err := obj.GetProperty("org.mpris.MediaPlayer2.Player.Metadata")
	if err != nil {
		return mpris.PlayerState{}, false
	}
	status, _ := obj.GetProperty("org.mpris.MediaPlayer2.Player.PlaybackStatus")
	volume, _ := obj.GetProperty("org.mpris.MediaPlayer2.Player.Volume")
	position, _ := obj.GetProperty("org.mpris.MediaPlayer2.Player.Position")

	fields, _ := metadata.Value().(map[string]dbus.Variant)
	state := mpris.PlayerState{
		Player:    name,
		IsPlaying: status.Value() == "Playing",
		Title:     stringField(fields, "xesam:title"),
		Album:     stringField(fields, "xesam:album"),
		Volume:    floatField(volume),
		Position:  int64Field(position),
	}
	if artists, ok := fields["xesam:artist"]; ok {
		if list, ok := artists.Value().([]string); ok && len(list) > 0 {
			state.Artist = list[0]
		}
	}
	if length, ok := fields["mpris:length"]; ok {
		state.Length = int64Field(length)
	}
	return state, true
}

func (p *playerSource) Control(name, action string) error {
	method := map[string]string{
		"Play":       "Play",
		"Pause":      "Pause",
		"PlayPause":  "PlayPause",
		"Stop":       "Stop",
		"Next":       "Next",
		"Previous":   "Previous",
	}[action]
	if method == "" {
		return fmt.Errorf("mpris: unknown control action %q", action)
	}
	return p.player(name).Call("org.mpris.MediaPlayer2.Player."+method, 0).Err
}

func (p *playerSource) SetVolume(name string, volume float64) error {
	return p.player(name).SetProperty("org.mpris.MediaPlayer2.Player.Volume", dbus.MakeVariant(volume))
}

func (p *playerSource) Seek(name string, offsetMicros int64) error {
	return p.player(name).Call("org.mpris.MediaPlayer2.Player.Seek", 0, offsetMicros).Err
}

func stringField(fields map[string]dbus.Variant, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func floatField(v dbus.Variant) float64 {
	f, _ := v.Value().(float64)
	return f
}

func int64Field(v dbus.Variant) int64 {
	switch n := v.Value().(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
