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
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerityTable(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	salt := strings.Repeat("cd", 32)

	m := NewMapping()
	m.LowerDevice = "/dev/loop0"
	m.DataSize = 8192
	m.RootDigest = digest
	m.Salt = salt

	want := fmt.Sprintf("1 /dev/loop0 /dev/loop0 4096 4096 2 2 sha256 %s %s", digest, salt)
	assert.Equal(t, want, m.verityTable())
}

func TestVerityTableLargeDevice(t *testing.T) {
	m := NewMapping()
	m.LowerDevice = "/dev/sdb2"
	m.DataSize = 64 << 20 // 16384 blocks
	m.RootDigest = strings.Repeat("00", 32)
	m.Salt = strings.Repeat("11", 32)

	assert.Contains(t, m.verityTable(), " 16384 16384 sha256 ")
}

func TestNewMappingIDs(t *testing.T) {
	a, b := NewMapping(), NewMapping()
	require.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID(), "every mapping gets its own identifier")

	_, err := uuid.Parse(a.ID())
	assert.NoError(t, err)
}

func TestMappingWithID(t *testing.T) {
	m := MappingWithID("some-id", "/dev/dm-4")
	assert.Equal(t, "some-id", m.ID())
	assert.Equal(t, "/dev/dm-4", m.UpperDevice)
}
