/*
   Copyright The dmverity Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package verity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	path := writeConfig(t, `
device: /data/bundle.img
dataSize: 8192
rootHash: `+hash+`
salt: cdcd
loop: true
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/bundle.img", c.Device)
	assert.Equal(t, uint64(8192), c.DataSize)
	assert.Equal(t, hash, c.RootHash)
	assert.Equal(t, "cdcd", c.Salt)
	assert.True(t, c.Loop)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "device: [unterminated")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestConfigIsValid(t *testing.T) {
	valid := Config{
		Device:   "/dev/sdb2",
		DataSize: 4096,
		RootHash: strings.Repeat("ab", 32),
		Salt:     "cdcd",
	}
	assert.NoError(t, valid.IsValid())

	for name, mutate := range map[string]func(*Config){
		"empty device":       func(c *Config) { c.Device = "" },
		"zero data size":     func(c *Config) { c.DataSize = 0 },
		"unaligned size":     func(c *Config) { c.DataSize = 4097 },
		"missing root hash":  func(c *Config) { c.RootHash = "" },
		"missing salt":       func(c *Config) { c.Salt = "" },
	} {
		c := valid
		mutate(&c)
		assert.Error(t, c.IsValid(), name)
	}
}

func TestConfigNewMapping(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	c := &Config{
		Device:   "/data/bundle.img",
		DataSize: 8192,
		RootHash: "sha256:" + hash,
		Salt:     "cdcd",
	}

	m, err := c.NewMapping("/dev/loop1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/loop1", m.LowerDevice)
	assert.Equal(t, hash, m.RootDigest, "digest prefix is normalized away")
	assert.Equal(t, uint64(8192), m.DataSize)

	c.RootHash = "not hex"
	_, err = c.NewMapping("/dev/loop1")
	assert.Error(t, err)
}
