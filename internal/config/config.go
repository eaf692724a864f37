// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads the tunables spec.md §6 lists as "Configuration
// options consumed" by VSL/VSM/VSC, generalizing the teacher's
// functional-option + JSON-settings shape (netlog.Option / TopicSettings
// in topic.go) to a single loaded Config plus per-component Option
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Segments is SEGMENTS from spec.md §6: the fixed number of offset-table
// slots in the log ring. It is a compile-time constant in the original
// design; we keep it a named constant rather than a Config field.
// vslring.New and vslring.Attach always use this value; no vslring
// option changes it.
const Segments = 8

// Config holds the tunables spec.md §6 names, except vsl_mask (tag
// suppression is set at runtime through a vslring.Mask) and SEGMENTS
// (the Segments constant above).
type Config struct {
	// ArenaPath is the directory holding the single mmap'd arena file.
	ArenaPath string `yaml:"arena_path"`

	// VSLSpace is vsl_space: total ring segment size in bytes.
	VSLSpace datasize.ByteSize `yaml:"vsl_space"`

	// VSLRecLen is vsl_reclen: per-record payload cap in bytes.
	VSLRecLen int `yaml:"vsl_reclen"`

	// VSLBuffer is vsl_buffer: default per-writer buffer size in bytes.
	VSLBuffer datasize.ByteSize `yaml:"vsl_buffer"`

	// SendTimeout is send_timeout: WRW partial-write deadline.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ListenAddress is where the metrics and debug control endpoints
	// are served; reported back verbatim by debug.listen_address.
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the configuration the teacher's DefaultTopicSettings
// equivalent would hand out absent an on-disk override.
func Default() Config {
	return Config{
		ArenaPath:     "/var/lib/vsl",
		VSLSpace:      4 * datasize.MB,
		VSLRecLen:     255 * 4, // 255 words, clamp target for §4.5 per-record cap
		VSLBuffer:     8 * datasize.KB,
		SendTimeout:   600 * time.Millisecond,
		ListenAddress: ":9212",
	}
}

// Load reads a YAML config file, falling back to Default() for any field
// left zero-valued in the file.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	var onDisk Config
	if err := yaml.NewDecoder(f).Decode(&onDisk); err != nil {
		return cfg, fmt.Errorf("config: decode %q: %w", path, err)
	}

	if onDisk.ArenaPath != "" {
		cfg.ArenaPath = onDisk.ArenaPath
	}
	if onDisk.VSLSpace > 0 {
		cfg.VSLSpace = onDisk.VSLSpace
	}
	if onDisk.VSLRecLen > 0 {
		cfg.VSLRecLen = onDisk.VSLRecLen
	}
	if onDisk.VSLBuffer > 0 {
		cfg.VSLBuffer = onDisk.VSLBuffer
	}
	if onDisk.SendTimeout > 0 {
		cfg.SendTimeout = onDisk.SendTimeout
	}
	if onDisk.ListenAddress != "" {
		cfg.ListenAddress = onDisk.ListenAddress
	}

	return cfg, nil
}
