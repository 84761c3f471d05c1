// Package clipboard implements the clipboard-sync capability: a peer
// pushes its current clipboard content, which is applied to the local
// clipboard (a host concern, left to the caller via UpdateFunc) and
// appended to a SQLite-backed history, which Store.Recent reads back.
package clipboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "clipboard"

// PacketType pushes the full clipboard content; ConnectType is sent once
// at connection time so a just-paired device gets the peer's current
// clipboard without waiting for the next change.
const (
	PacketType  = "cconnect.clipboard"
	ConnectType = "cconnect.clipboard.connect"
)

type body struct {
	Content string `json:"content"`
}

// Entry is one row of clipboard history.
type Entry struct {
	DeviceID  string
	Content   string
	Timestamp time.Time
}

// Store is a SQLite-backed append-only clipboard history, one database
// shared across every device's clipboard handler instance.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the clipboard history database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("clipboard: open store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS clipboard_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	content TEXT NOT NULL,
	received_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("clipboard: migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) append(ctx context.Context, deviceID, content string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clipboard_history (device_id, content, received_at) VALUES (?, ?, ?)`,
		deviceID, content, at.Unix())
	return err
}

// Recent returns the most recent limit clipboard entries across all
// devices, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, content, received_at FROM clipboard_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.DeviceID, &e.Content, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateFunc applies received clipboard content to the host clipboard;
// supplied by the daemon since touching the host clipboard is outside
// this package's scope.
type UpdateFunc func(content string)

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	store    *Store
	update   UpdateFunc
}

// NewFactory returns a plugin.Factory bound to a shared Store and the
// host clipboard update hook.
func NewFactory(store *Store, update UpdateFunc) plugin.Factory {
	return func() plugin.Handler {
		return &Handler{store: store, update: update}
	}
}

func (h *Handler) Name() string { return Kind }
func (h *Handler) IncomingCapabilities() []string {
	return []string{PacketType, ConnectType}
}
func (h *Handler) OutgoingCapabilities() []string {
	return []string{PacketType, ConnectType}
}

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	b, err := plugin.DecodeBody[body](p)
	if err != nil {
		return err
	}
	if h.update != nil {
		h.update(b.Content)
	}
	if h.store != nil {
		if err := h.store.append(context.Background(), device.ID(), b.Content, time.Now()); err != nil {
			return fmt.Errorf("clipboard: persist history: %w", err)
		}
	}
	return nil
}

// Send pushes the local clipboard content to a device.
func Send(outbound chan<- plugin.Outbound, deviceID, content string) error {
	return send(outbound, deviceID, PacketType, content)
}

// SendOnConnect pushes the local clipboard content using the
// connection-time variant, for a freshly paired or reconnected device.
func SendOnConnect(outbound chan<- plugin.Outbound, deviceID, content string) error {
	return send(outbound, deviceID, ConnectType, content)
}

func send(outbound chan<- plugin.Outbound, deviceID, typ, content string) error {
	raw, err := json.Marshal(body{Content: content})
	if err != nil {
		return err
	}
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: typ, Body: raw}}
	return nil
}
