package client

import (
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/nodectl/nodectl/pkg/controller"
)

// StepStarted is the answer to a step request.
type StepStarted struct {
	RunID string `json:"runID"`
	Mode  string `json:"mode"`
}

// Ports lists the serial ports of the daemon's host.
type Ports struct {
	Ports   []string `json:"ports"`
	Current string   `json:"current,omitempty"`
}

// Reconnect is the daemon's reconnect schedule. Next is nil when nothing is
// scheduled.
type Reconnect struct {
	Schedule string     `json:"schedule"`
	Next     *time.Time `json:"next,omitempty"`
}

func (c *Client) GetStatus() (*controller.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return decodeStatus(ret)
}

// Connect asks the daemon to look for the device again.
func (c *Client) Connect() (*controller.Status, error) {
	ret, err := c.Post("/connect", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to device")
	}
	return decodeStatus(ret)
}

// Enable runs the enable hook. proto may be nil when no protocol is loaded.
func (c *Client) Enable(proto *controller.Protocol) (*controller.Status, error) {
	return c.lifecycle("/enable", proto)
}

// Disable runs the disable hook. proto may be nil when no protocol is loaded.
func (c *Client) Disable(proto *controller.Protocol) (*controller.Status, error) {
	return c.lifecycle("/disable", proto)
}

func (c *Client) lifecycle(path string, proto *controller.Protocol) (*controller.Status, error) {
	data := ""
	if proto != nil {
		b, err := json.Marshal(proto)
		if err != nil {
			return nil, err
		}
		data = string(b)
	}
	ret, err := c.Post(path, data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to call %s", path)
	}
	return decodeStatus(ret)
}

func (c *Client) RunStep(proto controller.Protocol) (*StepStarted, error) {
	b, err := json.Marshal(proto)
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/step", string(b))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start step")
	}
	var started StepStarted
	if err := json.Unmarshal([]byte(ret), &started); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal step response")
	}
	return &started, nil
}

func (c *Client) Reflash() (string, error) {
	ret, err := c.Post("/reflash", "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to reflash firmware")
	}
	return unquote(ret), nil
}

func (c *Client) GetConfig() (map[string]any, error) {
	return c.getMap("/config", "config")
}

func (c *Client) SetConfig(values map[string]any) (map[string]any, error) {
	return c.putMap("/config", "config", values)
}

func (c *Client) GetDeviceConfig() (map[string]any, error) {
	return c.getMap("/device-config", "device config")
}

func (c *Client) SetDeviceConfig(values map[string]any) (map[string]any, error) {
	return c.putMap("/device-config", "device config", values)
}

func (c *Client) GetPorts() (*Ports, error) {
	ret, err := c.Get("/ports")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list ports")
	}
	var p Ports
	if err := json.Unmarshal([]byte(ret), &p); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal ports")
	}
	return &p, nil
}

func (c *Client) GetReconnect() (*Reconnect, error) {
	ret, err := c.Get("/reconnect")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get reconnect schedule")
	}
	return decodeReconnect(ret)
}

// SkipReconnect skips the next scheduled reconnect.
func (c *Client) SkipReconnect() (*Reconnect, error) {
	ret, err := c.Post("/reconnect/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip reconnect")
	}
	return decodeReconnect(ret)
}

func decodeReconnect(ret string) (*Reconnect, error) {
	var r Reconnect
	if err := json.Unmarshal([]byte(ret), &r); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal reconnect schedule")
	}
	return &r, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

func (c *Client) getMap(path, what string) (map[string]any, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ret), &m); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return m, nil
}

func (c *Client) putMap(path, what string, values map[string]any) (map[string]any, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put(path, string(b))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set %s", what)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ret), &m); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return m, nil
}

func decodeStatus(ret string) (*controller.Status, error) {
	var st controller.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}
