// Package firmware flashes firmware images onto boards attached to a serial
// port.
package firmware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Selector returns the path of the firmware image to flash on a board.
type Selector func(boardID string) (string, error)

// Uploader flashes firmware to the board on port. The port must not be held
// open by anything else while uploading.
type Uploader interface {
	Upload(ctx context.Context, boardID string, selector Selector, port string) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, boardID string, selector Selector, port string) error

func (f UploaderFunc) Upload(ctx context.Context, boardID string, selector Selector, port string) error {
	return f(ctx, boardID, selector, port)
}

// NotFoundError means no image exists for a board and version.
type NotFoundError struct {
	Dir     string
	BoardID string
	Version string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no firmware for board %s version %s in %s", e.BoardID, e.Version, e.Dir)
}

// DirSelector selects images laid out as
//
//	<dir>/<boardID>/*<version>*.hex
//
// If several images match, the lexically first one wins.
func DirSelector(dir, version string) Selector {
	return func(boardID string) (string, error) {
		if dir == "" {
			return "", &NotFoundError{Dir: "(unset)", BoardID: boardID, Version: version}
		}
		pattern := filepath.Join(dir, boardID, "*"+version+"*.hex")
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", fmt.Errorf("bad firmware pattern %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
				return m, nil
			}
		}
		return "", &NotFoundError{Dir: dir, BoardID: boardID, Version: version}
	}
}
