package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cosmic-connect/cconnectd/internal/registry"
)

// Client talks to a running daemon's command socket, for host-side tools
// like cconnectctl that never link the daemon's internals directly.
type Client struct {
	http     *http.Client
	sockFile string
}

// NewClient builds a Client dialing sockFile for every request.
func NewClient(sockFile string) *Client {
	return &Client{
		sockFile: sockFile,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockFile)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) url(path string) string { return "http://unix" + path }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dial cconnectd at %s: %w", c.sockFile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("cconnectd: %s", apiErr.Error)
		}
		return fmt.Errorf("cconnectd: unexpected status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListDevices(ctx context.Context) ([]*registry.Device, error) {
	var devices []*registry.Device
	err := c.do(ctx, http.MethodGet, "/devices", nil, &devices)
	return devices, err
}

func (c *Client) GetDevice(ctx context.Context, id string) (*registry.Device, error) {
	var d registry.Device
	if err := c.do(ctx, http.MethodGet, "/devices/"+id, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Pair(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/pair", nil, nil)
}

func (c *Client) Unpair(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/devices/"+id+"/pair", nil, nil)
}

func (c *Client) AcceptPair(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/pair/accept", nil, nil)
}

func (c *Client) RejectPair(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/pair/reject", nil, nil)
}

func (c *Client) Ping(ctx context.Context, id, message string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/ping", map[string]string{"message": message}, nil)
}

func (c *Client) ShareFile(ctx context.Context, id, path string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/share/file", map[string]string{"path": path}, nil)
}

func (c *Client) ShareText(ctx context.Context, id, text string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/share/text", map[string]string{"text": text}, nil)
}

func (c *Client) Notify(ctx context.Context, id, appName, title, body string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/notify", map[string]string{
		"appName": appName, "title": title, "body": body,
	}, nil)
}

func (c *Client) Battery(ctx context.Context, id string) (BatteryStatus, error) {
	var status BatteryStatus
	err := c.do(ctx, http.MethodGet, "/devices/"+id+"/battery", nil, &status)
	return status, err
}

func (c *Client) RefreshDiscovery(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/discovery/refresh", nil, nil)
}

func (c *Client) MPRISPlayers(ctx context.Context, id string) ([]string, error) {
	var players []string
	err := c.do(ctx, http.MethodGet, "/devices/"+id+"/mpris/players", nil, &players)
	return players, err
}

func (c *Client) MPRISControl(ctx context.Context, id, player, action string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/mpris/"+player+"/control", map[string]string{"action": action}, nil)
}

func (c *Client) MPRISSetVolume(ctx context.Context, id, player string, volume float64) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/mpris/"+player+"/volume", map[string]float64{"volume": volume}, nil)
}

func (c *Client) MPRISSeek(ctx context.Context, id, player string, offsetMicros int64) error {
	return c.do(ctx, http.MethodPost, "/devices/"+id+"/mpris/"+player+"/seek", map[string]int64{"offsetMicros": offsetMicros}, nil)
}

// Events streams the daemon's live event feed to fn until ctx is cancelled
// or the connection drops.
func (c *Client) Events(ctx context.Context, fn func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/events"), nil)
	if err != nil {
		return err
	}
	// The shared client's Timeout would end the stream; only ctx bounds it.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("dial cconnectd at %s: %w", c.sockFile, err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		fn(e)
	}
	return scanner.Err()
}
