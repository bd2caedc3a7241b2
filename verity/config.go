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
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is a declarative mapping description, typically loaded from a
// YAML file by the veritydev CLI.
type Config struct {
	// Device is the backing block device, or an image file when Loop
	// is set.
	Device string `yaml:"device"`
	// DataSize is the protected region length in bytes.
	DataSize uint64 `yaml:"dataSize"`
	// RootHash is the hash-tree trust anchor, bare hex or an
	// algorithm-prefixed digest string.
	RootHash string `yaml:"rootHash"`
	// Salt is the hex salt mixed into every hash-tree node.
	Salt string `yaml:"salt"`
	// Loop attaches Device as a read-only loop device before setup,
	// for image files that are not block devices yet.
	Loop bool `yaml:"loop"`
}

// LoadConfig reads and validates a mapping description.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := c.IsValid(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &c, nil
}

// IsValid checks the description before any device work starts.
func (c *Config) IsValid() error {
	if c.Device == "" {
		return fmt.Errorf("'device' may not be empty")
	}
	if c.DataSize == 0 || c.DataSize%blockSize != 0 {
		return fmt.Errorf("'dataSize' (%d) must be a positive multiple of %d", c.DataSize, blockSize)
	}
	if c.RootHash == "" {
		return fmt.Errorf("'rootHash' may not be empty")
	}
	if c.Salt == "" {
		return fmt.Errorf("'salt' may not be empty")
	}
	return nil
}

// NewMapping builds a Mapping from the description. The caller is
// responsible for any loop attachment Device needs first.
func (c *Config) NewMapping(device string) (*Mapping, error) {
	rootHash, err := decodeRootHash(c.RootHash)
	if err != nil {
		return nil, err
	}
	m := NewMapping()
	m.LowerDevice = device
	m.DataSize = c.DataSize
	m.RootDigest = rootHash
	m.Salt = c.Salt
	return m, nil
}
