// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsedWhenFieldsAreZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vsl_reclen: 2048\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, 2048, cfg.VSLRecLen)
	require.Equal(t, def.ArenaPath, cfg.ArenaPath)
	require.Equal(t, def.VSLSpace, cfg.VSLSpace)
	require.Equal(t, def.ListenAddress, cfg.ListenAddress)
}

func TestLoadOverridesEveryField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vsl.yaml")
	contents := `
arena_path: /tmp/custom-arena
vsl_space: "8MB"
vsl_reclen: 512
vsl_buffer: "16KB"
send_timeout: 1s
listen_address: "127.0.0.1:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/custom-arena", cfg.ArenaPath)
	require.EqualValues(t, 8*datasize.MB, cfg.VSLSpace)
	require.Equal(t, 512, cfg.VSLRecLen)
	require.EqualValues(t, 16*datasize.KB, cfg.VSLBuffer)
	require.Equal(t, time.Second, cfg.SendTimeout)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
