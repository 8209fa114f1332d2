package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nodectl/nodectl/pkg/config"
	"github.com/nodectl/nodectl/pkg/controller"
	"github.com/nodectl/nodectl/pkg/step"
	"github.com/nodectl/nodectl/pkg/version"
)

func (d *daemon) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", d.getStatus)
	router.POST("/connect", d.connect)
	router.POST("/enable", d.enable)
	router.POST("/disable", d.disable)
	router.POST("/step", d.runStep)
	router.POST("/reflash", d.reflash)
	router.GET("/config", d.getConfig)
	router.PUT("/config", d.setConfig)
	router.GET("/device-config", d.getDeviceConfig)
	router.PUT("/device-config", d.setDeviceConfig)
	router.GET("/ports", d.getPorts)
	router.GET("/events", d.streamEvents)
	router.GET("/reconnect", d.getReconnect)
	router.POST("/reconnect/skip", d.skipReconnect)
	router.GET("/version", getVersion)

	return router
}

// StepResponse is returned when a step was started.
type StepResponse struct {
	RunID string    `json:"runID"`
	Mode  step.Mode `json:"mode"`
}

// PortsResponse lists the serial ports found on the host.
type PortsResponse struct {
	Ports   []string `json:"ports"`
	Current string   `json:"current,omitempty"`
}

// ReconnectResponse describes the reconnect schedule. Next is omitted when
// nothing is scheduled.
type ReconnectResponse struct {
	Schedule string     `json:"schedule"`
	Next     *time.Time `json:"next,omitempty"`
}

func (d *daemon) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.ctrl.Status())
}

func (d *daemon) connect(c *gin.Context) {
	if _, err := d.ctrl.CheckDevice(c.Request.Context()); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, d.ctrl.Status())
}

// bindProtocol reads an optional Protocol body.
func bindProtocol(c *gin.Context) (*controller.Protocol, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var p controller.Protocol
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *daemon) enable(c *gin.Context) {
	proto, err := bindProtocol(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	run, err := d.ctrl.OnEnable(c.Request.Context(), proto)
	d.respondLifecycle(c, run, err)
}

func (d *daemon) disable(c *gin.Context) {
	proto, err := bindProtocol(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	run, err := d.ctrl.OnDisable(c.Request.Context(), proto)
	d.respondLifecycle(c, run, err)
}

func (d *daemon) respondLifecycle(c *gin.Context, run *step.Run, err error) {
	if errors.Is(err, step.ErrStepInProgress) {
		abortWithError(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if run != nil {
		logrus.WithField("runID", run.ID()).Debug("lifecycle hook started a step")
	}
	c.IndentedJSON(http.StatusOK, d.ctrl.Status())
}

func (d *daemon) runStep(c *gin.Context) {
	var p controller.Protocol
	if err := c.BindJSON(&p); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}

	run, err := d.ctrl.OnStepRun(c.Request.Context(), p.Host, p.Options)
	if errors.Is(err, step.ErrStepInProgress) {
		abortWithError(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusAccepted, StepResponse{RunID: run.ID(), Mode: run.Mode()})
}

func (d *daemon) reflash(c *gin.Context) {
	err := d.ctrl.Reflash(c.Request.Context())
	if errors.Is(err, controller.ErrNoDeviceToFlash) {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Info("firmware reflashed")
	c.IndentedJSON(http.StatusCreated, "firmware updated successfully")
}

func (d *daemon) reconnectStatus() ReconnectResponse {
	resp := ReconnectResponse{Schedule: d.conf.ReconnectSchedule()}
	if next, _ := d.reconnect.Status(); !next.IsZero() {
		resp.Next = &next
	}
	return resp
}

func (d *daemon) getReconnect(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.reconnectStatus())
}

func (d *daemon) skipReconnect(c *gin.Context) {
	if err := d.reconnect.Skip(); err != nil {
		abortWithError(c, http.StatusConflict, err)
		return
	}

	resp := d.reconnectStatus()
	logrus.WithField("next", resp.Next).Info("skipped next reconnect")
	c.IndentedJSON(http.StatusOK, resp)
}

func (d *daemon) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.conf.Values())
}

func (d *daemon) setConfig(c *gin.Context) {
	var values map[string]any
	if err := c.BindJSON(&values); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}
	if err := validateConfig(values); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := d.conf.SetValues(values); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.WithField("keys", len(values)).Info("config updated")

	if _, ok := values[config.KeyReconnectSchedule]; ok {
		d.applySchedule()
	}

	c.IndentedJSON(http.StatusCreated, d.conf.Values())
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateConfig rejects values the accessors would silently replace by
// their defaults.
func validateConfig(values map[string]any) error {
	if v, ok := values[config.KeyStepMode]; ok && v != nil {
		mode, _ := v.(string)
		if mode != string(config.StepModeDevice) && mode != string(config.StepModeTimer) {
			return fmt.Errorf("%s must be %q or %q, got %v", config.KeyStepMode, config.StepModeDevice, config.StepModeTimer, v)
		}
	}
	if v, ok := values[config.KeyStepTimeoutMS]; ok && v != nil {
		ms, isNum := v.(float64)
		if !isNum || ms <= 0 {
			return fmt.Errorf("%s must be a positive number, got %v", config.KeyStepTimeoutMS, v)
		}
	}
	if v, ok := values[config.KeyReconnectSchedule]; ok && v != nil {
		expr, isStr := v.(string)
		if !isStr {
			return fmt.Errorf("%s must be a string, got %v", config.KeyReconnectSchedule, v)
		}
		if expr != "" {
			if _, err := cronParser.Parse(expr); err != nil {
				return fmt.Errorf("invalid %s: %w", config.KeyReconnectSchedule, err)
			}
		}
	}
	return nil
}

func (d *daemon) getDeviceConfig(c *gin.Context) {
	values, err := d.ctrl.DeviceConfig(c.Request.Context())
	if errors.Is(err, controller.ErrNotConnected) {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, values)
}

func (d *daemon) setDeviceConfig(c *gin.Context) {
	var values map[string]any
	if err := c.BindJSON(&values); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}

	updated, err := d.ctrl.EditDeviceConfig(c.Request.Context(), values)
	if errors.Is(err, controller.ErrNotConnected) {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, updated)
}

func (d *daemon) getPorts(c *gin.Context) {
	ports, err := d.ports.ListPorts()
	if err != nil {
		logrus.Errorf("getPorts failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	resp := PortsResponse{Ports: ports}
	if resp.Ports == nil {
		resp.Ports = []string{}
	}
	if sess := d.ctrl.Session(); sess != nil {
		resp.Current = sess.Port()
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (d *daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Send the headers now: clients wait for them before reading events,
	// and the first event may be far off.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
