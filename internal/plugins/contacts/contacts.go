// Package contacts implements the contacts-sync capability: a peer
// advertises its contact UIDs and timestamps, the daemon requests the
// full vCard for any UID it doesn't have or whose timestamp is stale,
// and incoming vCards are persisted (with their phone numbers and
// emails, in one transaction per contact) to a SQLite-backed store.
package contacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

const Kind = "contacts"

const (
	ResponseUIDsTimestampsType = "cconnect.contacts.response_uids_timestamps"
	RequestAllUIDsTimestampsType = "cconnect.contacts.request_all_uids_timestamps"
	RequestVCardsByUIDsType   = "cconnect.contacts.request_vcards_by_uid_timestamps"
	ResponseVCardsType        = "cconnect.contacts.response_vcards"
)

// Contact is one synced contact, with its phone numbers and emails
// parsed out of the raw vCard for storage.
type Contact struct {
	UID       string
	Name      string
	Phones    []string
	Emails    []string
	Timestamp int64
	VCard     string
}

// Store is a SQLite-backed contact database, one per configured peer or
// shared across peers depending on daemon policy.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("contacts: open store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	uid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	vcard TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_phones (
	uid TEXT NOT NULL REFERENCES contacts(uid) ON DELETE CASCADE,
	number TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS contact_emails (
	uid TEXT NOT NULL REFERENCES contacts(uid) ON DELETE CASCADE,
	address TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("contacts: migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Timestamps returns the uid -> last-synced-timestamp map currently on
// disk, used to decide which peer UIDs need a fresh vCard pull.
func (s *Store) Timestamps(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uid, timestamp FROM contacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var uid string
		var ts int64
		if err := rows.Scan(&uid, &ts); err != nil {
			return nil, err
		}
		out[uid] = ts
	}
	return out, rows.Err()
}

// Upsert persists a contact and its phones/emails in a single
// transaction, replacing any prior row for the same uid.
func (s *Store) Upsert(ctx context.Context, c Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contacts: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (uid, name, timestamp, vcard) VALUES (?, ?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET name=excluded.name, timestamp=excluded.timestamp, vcard=excluded.vcard`,
		c.UID, c.Name, c.Timestamp, c.VCard); err != nil {
		return fmt.Errorf("contacts: upsert contact row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_phones WHERE uid = ?`, c.UID); err != nil {
		return err
	}
	for _, p := range c.Phones {
		if _, err := tx.ExecContext(ctx, `INSERT INTO contact_phones (uid, number) VALUES (?, ?)`, c.UID, p); err != nil {
			return fmt.Errorf("contacts: insert phone: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_emails WHERE uid = ?`, c.UID); err != nil {
		return err
	}
	for _, e := range c.Emails {
		if _, err := tx.ExecContext(ctx, `INSERT INTO contact_emails (uid, address) VALUES (?, ?)`, c.UID, e); err != nil {
			return fmt.Errorf("contacts: insert email: %w", err)
		}
	}
	return tx.Commit()
}

type uidsTimestampsBody struct {
	UIDs map[string]int64 `json:"uids"`
}

type requestVCardsBody struct {
	UIDs []string `json:"uids"`
}

type Handler struct {
	device   plugin.Device
	outbound chan<- plugin.Outbound
	store    *Store
}

// NewFactory returns a plugin.Factory bound to a shared Store.
func NewFactory(store *Store) plugin.Factory {
	return func() plugin.Handler { return &Handler{store: store} }
}

func (h *Handler) Name() string { return Kind }
func (h *Handler) IncomingCapabilities() []string {
	return []string{ResponseUIDsTimestampsType, ResponseVCardsType}
}
func (h *Handler) OutgoingCapabilities() []string {
	return []string{RequestAllUIDsTimestampsType, RequestVCardsByUIDsType}
}

func (h *Handler) Init(device plugin.Device, outbound chan<- plugin.Outbound) error {
	h.device = device
	h.outbound = outbound
	return nil
}

func (h *Handler) Start() error { return nil }
func (h *Handler) Stop() error  { return nil }

func (h *Handler) HandlePacket(device plugin.Device, p *packet.Packet) error {
	switch p.Type {
	case ResponseUIDsTimestampsType:
		return h.handleUIDsTimestamps(device, p)
	case ResponseVCardsType:
		return h.handleVCards(device, p)
	}
	return nil
}

func (h *Handler) handleUIDsTimestamps(device plugin.Device, p *packet.Packet) error {
	b, err := plugin.DecodeBody[uidsTimestampsBody](p)
	if err != nil {
		return err
	}
	if h.store == nil {
		return nil
	}
	local, err := h.store.Timestamps(context.Background())
	if err != nil {
		return fmt.Errorf("contacts: read local timestamps: %w", err)
	}

	var stale []string
	for uid, remoteTS := range b.UIDs {
		if localTS, ok := local[uid]; !ok || localTS < remoteTS {
			stale = append(stale, uid)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	raw, err := json.Marshal(requestVCardsBody{UIDs: stale})
	if err != nil {
		return err
	}
	h.outbound <- plugin.Outbound{DeviceID: device.ID(), Packet: &packet.Packet{Type: RequestVCardsByUIDsType, Body: raw}}
	return nil
}

// handleVCards decodes a vcards response, whose wire shape is a uids
// array plus one dynamically-keyed field per uid holding its vCard
// text — picked apart with a generic map since the keys aren't static.
func (h *Handler) handleVCards(device plugin.Device, p *packet.Packet) error {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(p.Body, &generic); err != nil {
		return fmt.Errorf("contacts: decode vcards body: %w", err)
	}

	var uids []string
	if raw, ok := generic["uids"]; ok {
		if err := json.Unmarshal(raw, &uids); err != nil {
			return fmt.Errorf("contacts: decode uids: %w", err)
		}
	}
	if h.store == nil {
		return nil
	}

	for _, uid := range uids {
		raw, ok := generic[uid]
		if !ok {
			continue
		}
		var vcard string
		if err := json.Unmarshal(raw, &vcard); err != nil {
			continue
		}
		c := parseVCard(uid, vcard)
		if err := h.store.Upsert(context.Background(), c); err != nil {
			return fmt.Errorf("contacts: persist %s: %w", uid, err)
		}
	}
	return nil
}

// parseVCard extracts just enough structure (FN, TEL, EMAIL lines) from
// a raw vCard to populate the local index; the vCard text itself is
// stored verbatim for anything richer a future reader needs.
func parseVCard(uid, vcard string) Contact {
	c := Contact{UID: uid, VCard: vcard}
	for _, line := range strings.Split(vcard, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "FN:"):
			c.Name = line[len("FN:"):]
		case strings.HasPrefix(line, "TEL"):
			if idx := strings.IndexByte(line, ':'); idx >= 0 {
				c.Phones = append(c.Phones, line[idx+1:])
			}
		case strings.HasPrefix(line, "EMAIL"):
			if idx := strings.IndexByte(line, ':'); idx >= 0 {
				c.Emails = append(c.Emails, line[idx+1:])
			}
		}
	}
	return c
}

// RequestSync sends the initial uid/timestamp pull request to a peer,
// kicking off a sync pass.
func RequestSync(outbound chan<- plugin.Outbound, deviceID string) error {
	outbound <- plugin.Outbound{DeviceID: deviceID, Packet: &packet.Packet{Type: RequestAllUIDsTimestampsType, Body: []byte(`{}`)}}
	return nil
}
