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

// writeSidecar places metadata content next to a fake image in a temp
// dir and returns the image path.
func writeSidecar(t *testing.T, content string) string {
	t.Helper()
	image := filepath.Join(t.TempDir(), "bundle.img")
	require.NoError(t, os.WriteFile(MetadataPath(image), []byte(content), 0644))
	return image
}

func TestMetadataPath(t *testing.T) {
	assert.Equal(t, "/data/bundle.img.dmverity", MetadataPath("/data/bundle.img"))
}

func TestReadMetadata(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	image := writeSidecar(t, `{"roothash":"`+hash+`","salt":"cdcd","datasize":8192}`)

	md, err := ReadMetadata(image)
	require.NoError(t, err)
	assert.Equal(t, hash, md.RootHash)
	assert.Equal(t, "cdcd", md.Salt)
	assert.Equal(t, uint64(8192), md.DataSize)
}

func TestReadMetadataDigestPrefix(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	image := writeSidecar(t, `{"roothash":"sha256:`+hash+`","salt":"cdcd","datasize":4096}`)

	md, err := ReadMetadata(image)
	require.NoError(t, err)
	assert.Equal(t, hash, md.RootHash, "digest prefix is stripped to bare hex")
}

func TestReadMetadataUnsupportedAlgorithm(t *testing.T) {
	hash := strings.Repeat("ab", 64)
	image := writeSidecar(t, `{"roothash":"sha512:`+hash+`","salt":"cdcd","datasize":4096}`)

	_, err := ReadMetadata(image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported root hash algorithm")
}

func TestReadMetadataMissingRootHash(t *testing.T) {
	image := writeSidecar(t, `{"salt":"cdcd","datasize":4096}`)

	_, err := ReadMetadata(image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing root hash")
}

func TestReadMetadataInvalidJSON(t *testing.T) {
	image := writeSidecar(t, `{not json`)

	_, err := ReadMetadata(image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestReadMetadataInvalidHex(t *testing.T) {
	image := writeSidecar(t, `{"roothash":"zzzz","salt":"cdcd","datasize":4096}`)

	_, err := ReadMetadata(image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid hex")
}

func TestReadMetadataMissingFile(t *testing.T) {
	_, err := ReadMetadata(filepath.Join(t.TempDir(), "absent.img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata file not found")
}

func TestWriteMetadataRoundTrip(t *testing.T) {
	image := filepath.Join(t.TempDir(), "bundle.img")
	in := &Metadata{
		RootHash: strings.Repeat("ab", 32),
		Salt:     strings.Repeat("cd", 32),
		DataSize: 16384,
	}
	require.NoError(t, WriteMetadata(image, in))

	out, err := ReadMetadata(image)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMetadataNewMapping(t *testing.T) {
	md := &Metadata{
		RootHash: strings.Repeat("ab", 32),
		Salt:     "cdcd",
		DataSize: 8192,
	}
	m := md.NewMapping("/dev/loop3")
	assert.Equal(t, "/dev/loop3", m.LowerDevice)
	assert.Equal(t, md.RootHash, m.RootDigest)
	assert.Equal(t, md.Salt, m.Salt)
	assert.Equal(t, md.DataSize, m.DataSize)
	assert.NotEmpty(t, m.ID())
}
