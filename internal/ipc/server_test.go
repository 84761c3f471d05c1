package ipc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/identity"
	"github.com/cosmic-connect/cconnectd/internal/registry"
)

type fakeBackend struct {
	devices map[string]*registry.Device
	paired  []string
}

func newFakeBackend() *fakeBackend {
	reg := registry.New("")
	reg.AddOrUpdate(identity.New("dev1", "Phone", identity.DevicePhone, 1716, nil, nil))
	d, _ := reg.Get("dev1")
	return &fakeBackend{devices: map[string]*registry.Device{"dev1": d}}
}

func (f *fakeBackend) ListDevices() []*registry.Device {
	out := make([]*registry.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}
func (f *fakeBackend) GetDevice(id string) (*registry.Device, bool) { d, ok := f.devices[id]; return d, ok }
func (f *fakeBackend) PairDevice(id string) error {
	if _, ok := f.devices[id]; !ok {
		return cerrors.New(cerrors.KindUserAction, "unknown device", cerrors.ErrUnknownDevice)
	}
	f.paired = append(f.paired, id)
	return nil
}
func (f *fakeBackend) AcceptPair(id string) error                          { return nil }
func (f *fakeBackend) RejectPair(id string) error                          { return nil }
func (f *fakeBackend) UnpairDevice(id string) error                        { return nil }
func (f *fakeBackend) RefreshDiscovery()                                   {}
func (f *fakeBackend) SendPing(id, message string) error                   { return nil }
func (f *fakeBackend) ShareFile(id, path string) error                     { return nil }
func (f *fakeBackend) ShareText(id, text string) error                     { return nil }
func (f *fakeBackend) SendNotification(id, app, title, body string) error  { return nil }
func (f *fakeBackend) GetBatteryStatus(id string) (BatteryStatus, error)   { return BatteryStatus{ChargePercent: 80}, nil }
func (f *fakeBackend) MPRISPlayers(id string) ([]string, error)            { return []string{"vlc"}, nil }
func (f *fakeBackend) MPRISControl(id, player, action string) error        { return nil }
func (f *fakeBackend) MPRISSetVolume(id, player string, volume float64) error { return nil }
func (f *fakeBackend) MPRISSeek(id, player string, offsetMicros int64) error  { return nil }

func TestListAndGetDevice(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	srv := New(backend, NewEventBus())

	req := httptest.NewRequest(http.MethodGet, "/devices/dev1", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var d registry.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, "dev1", d.Info.DeviceID)
}

func TestGetUnknownDeviceReturns404(t *testing.T) {
	t.Parallel()
	srv := New(newFakeBackend(), NewEventBus())

	req := httptest.NewRequest(http.MethodGet, "/devices/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPairDeviceRejectsUnknownDevice(t *testing.T) {
	t.Parallel()
	srv := New(newFakeBackend(), NewEventBus())

	req := httptest.NewRequest(http.MethodPost, "/devices/nope/pair", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventBusFanOut(t *testing.T) {
	t.Parallel()
	bus := NewEventBus()
	ch1, unsub1 := bus.Subscribe(4)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(4)
	defer unsub2()

	bus.Publish(Event{Kind: EventDeviceAdded, DeviceID: "dev1"})

	e1 := <-ch1
	e2 := <-ch2
	require.Equal(t, EventDeviceAdded, e1.Kind)
	require.Equal(t, EventDeviceAdded, e2.Kind)
}
