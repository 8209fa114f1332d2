package firmware

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Board describes how avrdude programs one board type.
type Board struct {
	MCU        string
	Programmer string
	BaudRate   int
}

// Boards known to the avrdude uploader.
var Boards = map[string]Board{
	"uno":       {MCU: "atmega328p", Programmer: "arduino", BaudRate: 115200},
	"nano":      {MCU: "atmega328p", Programmer: "arduino", BaudRate: 57600},
	"mega2560":  {MCU: "atmega2560", Programmer: "wiring", BaudRate: 115200},
	"leonardo":  {MCU: "atmega32u4", Programmer: "avr109", BaudRate: 57600},
	"diecimila": {MCU: "atmega168", Programmer: "arduino", BaudRate: 19200},
}

var _ Uploader = &Avrdude{}

// Avrdude uploads Intel HEX images by running avrdude.
type Avrdude struct {
	config avrdudeConfig
}

type avrdudeConfig struct {
	binary   string
	confFile string
	timeout  time.Duration
	// run executes the command and returns its combined output.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Option configures an Avrdude uploader.
type Option func(*avrdudeConfig)

// WithBinary sets the avrdude executable. Default is "avrdude" from PATH.
func WithBinary(path string) Option {
	return func(c *avrdudeConfig) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithConfFile passes -C to avrdude.
func WithConfFile(path string) Option {
	return func(c *avrdudeConfig) {
		c.confFile = path
	}
}

// WithTimeout bounds a whole upload.
func WithTimeout(d time.Duration) Option {
	return func(c *avrdudeConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRunner replaces process execution.
func WithRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) Option {
	return func(c *avrdudeConfig) {
		if run != nil {
			c.run = run
		}
	}
}

func NewAvrdude(opts ...Option) *Avrdude {
	cfg := avrdudeConfig{
		binary:  "avrdude",
		timeout: 2 * time.Minute,
		run:     runCommand,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Avrdude{config: cfg}
}

// UploadError carries the avrdude output of a failed upload.
type UploadError struct {
	Port   string
	Output string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("avrdude failed on %s: %v", e.Port, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func (a *Avrdude) Upload(ctx context.Context, boardID string, selector Selector, port string) error {
	board, ok := Boards[boardID]
	if !ok {
		return fmt.Errorf("unknown board %q", boardID)
	}
	if selector == nil {
		return fmt.Errorf("no firmware selector")
	}
	image, err := selector(boardID)
	if err != nil {
		return err
	}

	args := a.args(board, image, port)

	log := logrus.WithFields(logrus.Fields{
		"board": boardID,
		"port":  port,
		"image": image,
	})
	log.Info("uploading firmware")
	log.WithField("args", strings.Join(args, " ")).Debug("running avrdude")

	ctx, cancel := context.WithTimeout(ctx, a.config.timeout)
	defer cancel()

	out, err := a.config.run(ctx, a.config.binary, args...)
	if err != nil {
		return &UploadError{Port: port, Output: string(out), Err: err}
	}

	log.WithField("output", string(out)).Trace("avrdude output")
	log.Info("firmware uploaded")
	return nil
}

func (a *Avrdude) args(board Board, image, port string) []string {
	var args []string
	if a.config.confFile != "" {
		args = append(args, "-C", a.config.confFile)
	}
	args = append(args,
		"-p", board.MCU,
		"-c", board.Programmer,
		"-P", port,
		"-b", strconv.Itoa(board.BaudRate),
		"-D",
		"-U", "flash:w:"+image+":i",
	)
	return args
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
