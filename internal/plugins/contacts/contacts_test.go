package contacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/packet"
	"github.com/cosmic-connect/cconnectd/internal/plugin"
)

type fakeDevice struct{ id string }

func (f fakeDevice) ID() string { return f.id }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseVCardExtractsNamePhoneEmail(t *testing.T) {
	vcard := "BEGIN:VCARD\nFN:Ada Lovelace\nTEL;TYPE=CELL:+1234567890\nEMAIL:ada@example.com\nEND:VCARD"
	c := parseVCard("uid-1", vcard)
	require.Equal(t, "Ada Lovelace", c.Name)
	require.Equal(t, []string{"+1234567890"}, c.Phones)
	require.Equal(t, []string{"ada@example.com"}, c.Emails)
}

func TestStoreUpsertAndTimestamps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, Contact{UID: "uid-1", Name: "Ada", Timestamp: 100, VCard: "BEGIN:VCARD\nEND:VCARD"})
	require.NoError(t, err)

	ts, err := store.Timestamps(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), ts["uid-1"])

	err = store.Upsert(ctx, Contact{UID: "uid-1", Name: "Ada L.", Timestamp: 200, VCard: "BEGIN:VCARD\nEND:VCARD"})
	require.NoError(t, err)

	ts, err = store.Timestamps(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(200), ts["uid-1"])
}

func TestHandlePacketRequestsStaleUIDs(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert(context.Background(), Contact{UID: "uid-1", Timestamp: 100, VCard: "x"}))

	factory := NewFactory(store)
	h := factory()
	outbound := make(chan plugin.Outbound, 1)
	require.NoError(t, h.Init(fakeDevice{"dev1"}, outbound))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: ResponseUIDsTimestampsType,
		Body: []byte(`{"uids":{"uid-1":200,"uid-2":50}}`),
	})
	require.NoError(t, err)

	ob := <-outbound
	require.Equal(t, RequestVCardsByUIDsType, ob.Packet.Type)
}

func TestHandlePacketPersistsVCards(t *testing.T) {
	store := openTestStore(t)
	factory := NewFactory(store)
	h := factory()
	require.NoError(t, h.Init(fakeDevice{"dev1"}, make(chan plugin.Outbound, 1)))

	err := h.HandlePacket(fakeDevice{"dev1"}, &packet.Packet{
		Type: ResponseVCardsType,
		Body: []byte(`{"uids":["uid-1"],"uid-1":"BEGIN:VCARD\nFN:Grace Hopper\nEND:VCARD"}`),
	})
	require.NoError(t, err)

	ts, err := store.Timestamps(context.Background())
	require.NoError(t, err)
	require.Contains(t, ts, "uid-1")
}
