package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/cosmic-connect/cconnectd/internal/cerrors"
	"github.com/cosmic-connect/cconnectd/internal/registry"
)

// Backend is everything the IPC surface needs from the daemon core to
// service a command. internal/daemon implements this by composing the
// registry, connection manager, pairing service, discovery service, and
// plugin fabric; the IPC layer itself holds none of that state.
type Backend interface {
	ListDevices() []*registry.Device
	GetDevice(id string) (*registry.Device, bool)
	PairDevice(id string) error
	AcceptPair(id string) error
	RejectPair(id string) error
	UnpairDevice(id string) error
	RefreshDiscovery()
	SendPing(id, message string) error
	ShareFile(id, path string) error
	ShareText(id, text string) error
	SendNotification(id, appName, title, body string) error
	GetBatteryStatus(id string) (BatteryStatus, error)
	MPRISPlayers(id string) ([]string, error)
	MPRISControl(id, player, action string) error
	MPRISSetVolume(id, player string, volume float64) error
	MPRISSeek(id, player string, offsetMicros int64) error
}

// BatteryStatus mirrors the battery plugin's last-known reading for a peer.
type BatteryStatus struct {
	ChargePercent int  `json:"chargePercent"`
	IsCharging    bool `json:"isCharging"`
	Low           bool `json:"low"`
}

// Server exposes Backend and an EventBus over an HTTP API, normally bound
// to a unix domain socket — the same ApiServer-over-unix-socket shape the
// reference daemon uses, generalized to gorilla/mux for path-variable
// routes (device ids, player names) that a bare http.ServeMux can't express
// cleanly.
type Server struct {
	*http.Server
	sockFile string
	backend  Backend
	events   *EventBus
}

// Option configures a Server at construction.
type Option func(*Server)

// WithSockFile sets the unix socket path the server listens on.
func WithSockFile(path string) Option {
	return func(s *Server) { s.sockFile = path }
}

// WithBaseContext ties every request's context to ctx, so daemon shutdown
// cancels in-flight handlers.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.BaseContext = func(net.Listener) context.Context { return ctx }
	}
}

// New builds a Server wired to backend and events, with routes registered
// on a fresh gorilla/mux router.
func New(backend Backend, events *EventBus, opts ...Option) *Server {
	s := &Server{
		Server:  &http.Server{},
		backend: backend,
		events:  events,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/pair", s.handlePair).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/pair", s.handleUnpair).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{id}/pair/accept", s.handlePairAccept).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/pair/reject", s.handlePairReject).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/ping", s.handlePing).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/share/file", s.handleShareFile).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/share/text", s.handleShareText).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/notify", s.handleNotify).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/battery", s.handleBattery).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/mpris/players", s.handleMPRISPlayers).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/mpris/{player}/control", s.handleMPRISControl).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/mpris/{player}/volume", s.handleMPRISVolume).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/mpris/{player}/seek", s.handleMPRISSeek).Methods(http.MethodPost)
	r.HandleFunc("/discovery/refresh", s.handleRefreshDiscovery).Methods(http.MethodPost)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

// ListenAndServeUnix binds sockFile (removing a stale socket file left by a
// prior unclean shutdown) and serves until ctx is cancelled.
func (s *Server) ListenAndServeUnix(ctx context.Context) error {
	_ = removeStaleSocket(s.sockFile)
	lis, err := net.Listen("unix", s.sockFile)
	if err != nil {
		return cerrors.Internal("bind ipc socket", err)
	}
	go func() {
		<-ctx.Done()
		s.Server.Close()
	}()
	if err := s.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case cerrors.RequiresUserAction(err):
		status = http.StatusBadRequest
	case isResourceExhausted(err):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": cerrors.UserMessage(err)})
}

func isResourceExhausted(err error) bool {
	var ce *cerrors.Error
	return errors.As(err, &ce) && ce.Kind == cerrors.KindResourceExhausted
}

// removeStaleSocket clears a unix socket file left behind by an unclean
// shutdown so a fresh bind doesn't fail with "address already in use".
func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.ListDevices())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok := s.backend.GetDevice(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown device"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.PairDevice(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.UnpairDevice(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePairAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.AcceptPair(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePairReject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.RejectPair(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.backend.SendPing(id, body.Message); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleShareFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.ShareFile(id, body.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleShareText(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.ShareText(id, body.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		AppName string `json:"appName"`
		Title   string `json:"title"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.SendNotification(id, body.AppName, body.Title, body.Body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.backend.GetBatteryStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMPRISPlayers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	players, err := s.backend.MPRISPlayers(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (s *Server) handleMPRISControl(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.MPRISControl(vars["id"], vars["player"], body.Action); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMPRISVolume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.MPRISSetVolume(vars["id"], vars["player"], body.Volume); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMPRISSeek(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body struct {
		OffsetMicros int64 `json:"offsetMicros"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := s.backend.MPRISSeek(vars["id"], vars["player"], body.OffsetMicros); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefreshDiscovery(w http.ResponseWriter, r *http.Request) {
	s.backend.RefreshDiscovery()
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams newline-delimited JSON events until the client
// disconnects or the request context is cancelled, mirroring the packet
// layer's own framing so applets can reuse a line-scanner.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.events.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := json.NewEncoder(w).Encode(e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
