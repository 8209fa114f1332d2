package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Store = &File{}

// File is a Store backed by a JSON document of the form
//
//	{"<plugin>": {"<key>": <value>, ...}, ...}
type File struct {
	c        RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// RawFileConfig is the on-disk representation of a File.
type RawFileConfig map[string]map[string]any

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewMemory returns a File that is never written to disk. Save is a no-op
// when the path is empty.
func NewMemory(c RawFileConfig) *File {
	if c == nil {
		c = RawFileConfig{}
	}

	return &File{
		c:  c,
		mu: &sync.RWMutex{},
	}
}

func (f *File) Get(plugin string) (map[string]any, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	ret := make(map[string]any, len(f.c[plugin]))
	for k, v := range f.c[plugin] {
		ret[k] = v
	}

	return ret, nil
}

func (f *File) Set(plugin string, values map[string]any) error {
	f.mu.Lock()
	if f.c == nil {
		f.c = RawFileConfig{}
	}
	section, ok := f.c[plugin]
	if !ok {
		section = map[string]any{}
		f.c[plugin] = section
	}
	for k, v := range values {
		if v == nil {
			delete(section, k)
			continue
		}
		section[k] = v
	}
	f.mu.Unlock()

	return f.Save()
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filepath == "" {
		if f.c == nil {
			f.c = RawFileConfig{}
		}
		return nil
	}

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if f.filepath == "" {
		return nil
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}
