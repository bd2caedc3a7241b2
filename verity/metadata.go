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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
)

// MetadataSuffix is appended to an image path to name its dm-verity
// sidecar file.
const MetadataSuffix = ".dmverity"

// Metadata describes a formatted image: everything a Mapping needs
// besides the backing device path. Whatever tool computed the hash
// tree writes the sidecar; this package only consumes it.
type Metadata struct {
	// RootHash is the hash-tree trust anchor. Accepted either as bare
	// hex or as an algorithm-prefixed digest string ("sha256:...");
	// ReadMetadata normalizes it to bare hex.
	RootHash string `json:"roothash"`
	// Salt is the hex salt mixed into every hash-tree node.
	Salt string `json:"salt"`
	// DataSize is the byte length of the protected data region.
	DataSize uint64 `json:"datasize"`
}

// MetadataPath returns the sidecar path for an image.
func MetadataPath(imagePath string) string {
	return imagePath + MetadataSuffix
}

// ReadMetadata loads and validates the sidecar for an image.
func ReadMetadata(imagePath string) (*Metadata, error) {
	path := MetadataPath(imagePath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("metadata file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read metadata file %s: %w", path, err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file %s: %w", path, err)
	}
	if md.RootHash == "" {
		return nil, fmt.Errorf("metadata file %s: missing root hash", path)
	}

	rootHash, err := decodeRootHash(md.RootHash)
	if err != nil {
		return nil, fmt.Errorf("metadata file %s: %w", path, err)
	}
	md.RootHash = rootHash
	return &md, nil
}

// WriteMetadata writes the sidecar next to an image.
func WriteMetadata(imagePath string, md *Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(imagePath), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// NewMapping builds a Mapping for the image described by md, backed by
// device.
func (md *Metadata) NewMapping(device string) *Mapping {
	m := NewMapping()
	m.LowerDevice = device
	m.DataSize = md.DataSize
	m.RootDigest = md.RootHash
	m.Salt = md.Salt
	return m
}

// decodeRootHash accepts bare hex or an OCI digest string and returns
// the bare hex form fed into the verity table.
func decodeRootHash(s string) (string, error) {
	if strings.Contains(s, ":") {
		d, err := digest.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid root hash digest: %w", err)
		}
		if d.Algorithm() != digest.SHA256 {
			return "", fmt.Errorf("unsupported root hash algorithm %q", d.Algorithm())
		}
		return d.Encoded(), nil
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("root hash is not valid hex: %w", err)
	}
	return s, nil
}
