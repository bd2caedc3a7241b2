//go:build linux

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

package loopdev

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachDetach(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("attaching loop devices requires root")
	}

	image := filepath.Join(t.TempDir(), "backing.img")
	size, err := units.RAMInBytes("4MB")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(image, make([]byte, size), 0644))

	device, err := Attach(image)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(device, "/dev/loop"))

	require.NoError(t, Detach(device))
}

func TestAttachMissingFile(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("attaching loop devices requires root")
	}

	_, err := Attach(filepath.Join(t.TempDir(), "absent.img"))
	assert.Error(t, err)
}

func TestDetachInvalidDevice(t *testing.T) {
	err := Detach(filepath.Join(t.TempDir(), "not-a-loop-device"))
	assert.Error(t, err)
}
