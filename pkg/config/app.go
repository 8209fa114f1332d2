package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	defaultValues = map[string]any{
		KeyStepTimeoutMS:     750,
		KeyStepsPerUnit:      1.0,
		KeyBoardID:           "uno",
		KeyFirmwareDir:       "",
		KeyBaudRate:          115200,
		KeyPollIntervalMS:    10,
		KeyAutoReflash:       false,
		KeyReconnectSchedule: "",
		KeyStepMode:          string(StepModeDevice),
	}
)

var _ Config = &AppConfig{}

// AppConfig reads and writes the section of one plugin in a Store. Nothing
// is cached: every accessor goes back to the store.
type AppConfig struct {
	store  Store
	plugin string
}

func NewAppConfig(store Store, plugin string) *AppConfig {
	if store == nil {
		panic("store cannot be nil")
	}

	return &AppConfig{
		store:  store,
		plugin: plugin,
	}
}

// Plugin returns the name of the section this config reads.
func (a *AppConfig) Plugin() string {
	return a.plugin
}

func (a *AppConfig) get(key string) any {
	values, err := a.store.Get(a.plugin)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("failed to read config, using default")
		return defaultValues[key]
	}
	if v, ok := values[key]; ok && v != nil {
		return v
	}
	return defaultValues[key]
}

func (a *AppConfig) LastKnownPort() (string, bool) {
	v, ok := a.get(KeyLastKnownPort).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (a *AppConfig) StepTimeout() time.Duration {
	ms, err := toInt(a.get(KeyStepTimeoutMS))
	if err != nil || ms <= 0 {
		logrus.WithField("value", a.get(KeyStepTimeoutMS)).Warnf("invalid %s, using default", KeyStepTimeoutMS)
		ms = defaultValues[KeyStepTimeoutMS].(int)
	}
	return time.Duration(ms) * time.Millisecond
}

func (a *AppConfig) StepsPerUnit() float64 {
	f, err := toFloat(a.get(KeyStepsPerUnit))
	if err != nil {
		return defaultValues[KeyStepsPerUnit].(float64)
	}
	return f
}

func (a *AppConfig) BoardID() string {
	v, _ := a.get(KeyBoardID).(string)
	if v == "" {
		return defaultValues[KeyBoardID].(string)
	}
	return v
}

func (a *AppConfig) FirmwareDir() string {
	v, _ := a.get(KeyFirmwareDir).(string)
	return v
}

func (a *AppConfig) BaudRate() int {
	v, err := toInt(a.get(KeyBaudRate))
	if err != nil || v <= 0 {
		return defaultValues[KeyBaudRate].(int)
	}
	return v
}

func (a *AppConfig) PollInterval() time.Duration {
	ms, err := toInt(a.get(KeyPollIntervalMS))
	if err != nil || ms <= 0 {
		ms = defaultValues[KeyPollIntervalMS].(int)
	}
	return time.Duration(ms) * time.Millisecond
}

func (a *AppConfig) AutoReflash() bool {
	switch v := a.get(KeyAutoReflash).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (a *AppConfig) ReconnectSchedule() string {
	v, _ := a.get(KeyReconnectSchedule).(string)
	return v
}

func (a *AppConfig) StepMode() StepMode {
	v, _ := a.get(KeyStepMode).(string)
	switch StepMode(v) {
	case StepModeTimer:
		return StepModeTimer
	default:
		return StepModeDevice
	}
}

func (a *AppConfig) SetLastKnownPort(port string) error {
	var v any = port
	if port == "" {
		v = nil
	}
	return a.SetValues(map[string]any{KeyLastKnownPort: v})
}

func (a *AppConfig) SetStepTimeout(d time.Duration) error {
	ms := d.Milliseconds()
	if ms <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyStepTimeoutMS, ms)
	}
	return a.SetValues(map[string]any{KeyStepTimeoutMS: ms})
}

// SetValues writes raw values into the section. A nil value removes the key.
func (a *AppConfig) SetValues(values map[string]any) error {
	if err := a.store.Set(a.plugin, values); err != nil {
		return pkgerrors.Wrapf(err, "failed to save config of %s", a.plugin)
	}
	return nil
}

func (a *AppConfig) Values() map[string]any {
	ret := make(map[string]any, len(defaultValues))
	for k, v := range defaultValues {
		ret[k] = v
	}
	values, err := a.store.Get(a.plugin)
	if err != nil {
		logrus.WithError(err).Warn("failed to read config")
		return ret
	}
	for k, v := range values {
		ret[k] = v
	}
	return ret
}

func (a *AppConfig) LogrusFields() logrus.Fields {
	port, _ := a.LastKnownPort()
	return logrus.Fields{
		"plugin":            a.plugin,
		"lastKnownPort":     port,
		"stepTimeout":       a.StepTimeout(),
		"stepsPerUnit":      a.StepsPerUnit(),
		"boardID":           a.BoardID(),
		"firmwareDir":       a.FirmwareDir(),
		"baudRate":          a.BaudRate(),
		"pollInterval":      a.PollInterval(),
		"autoReflash":       a.AutoReflash(),
		"reconnectSchedule": a.ReconnectSchedule(),
		"stepMode":          a.StepMode(),
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
