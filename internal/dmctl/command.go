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

package dmctl

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// paramsSize is the fixed size of the parameter slot trailing a target
// spec. Sized generously; a verity table line with sha256 digest and
// salt is well under 300 bytes even for long device paths.
const paramsSize = 1024

var (
	hdrSize  = int(unsafe.Sizeof(unix.DmIoctl{}))
	specSize = int(unsafe.Sizeof(unix.DmTargetSpec{}))
)

// ErrParameterOverflow reports a target parameter string that does not
// fit the fixed parameter slot of a table-load command. Overflow is a
// hard error, never silent truncation.
var ErrParameterOverflow = errors.New("target parameters exceed command buffer")

// Target describes one row of a device table.
type Target struct {
	// SectorStart and SectorCount are in 512-byte sectors.
	SectorStart uint64
	SectorCount uint64
	// Type names the kernel target, e.g. "verity".
	Type string
	// Params is the target's construction parameter line.
	Params string
}

// command is a single control command buffer: a dm_ioctl header
// optionally followed by one target spec and its parameter text. The
// same buffer carries the kernel's response after the ioctl returns.
type command struct {
	buf []byte
}

// newCommand allocates a command buffer with room for payload bytes
// after the header and fills in the common header fields. The id is
// copied into the bounded UUID slot and addresses the device in every
// call that references it.
func newCommand(id string, flags uint32, payload int) (*command, error) {
	c := &command{buf: make([]byte, hdrSize+payload)}
	h := c.header()
	h.Version[0] = unix.DM_VERSION_MAJOR
	h.Version[1] = 0
	h.Version[2] = 0
	h.Data_size = uint32(len(c.buf))
	h.Data_start = uint32(hdrSize)
	h.Flags = flags
	if err := putString(h.Uuid[:], id); err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	return c, nil
}

func (c *command) header() *unix.DmIoctl {
	return (*unix.DmIoctl)(unsafe.Pointer(&c.buf[0]))
}

// setName fills the bounded device name slot. Only device creation
// carries a name; every later call addresses the device by id.
func (c *command) setName(name string) error {
	if err := putString(c.header().Name[:], name); err != nil {
		return fmt.Errorf("device name: %w", err)
	}
	return nil
}

// setTarget writes a single target spec and its parameter text into
// the payload region following the header.
func (c *command) setTarget(t Target) error {
	if len(c.buf) < hdrSize+specSize+paramsSize {
		return errors.New("command buffer has no target payload region")
	}
	h := c.header()
	h.Target_count = 1

	spec := (*unix.DmTargetSpec)(unsafe.Pointer(&c.buf[hdrSize]))
	spec.Status = 0
	spec.Sector_start = t.SectorStart
	spec.Length = t.SectorCount
	if err := putString(spec.Target_type[:], t.Type); err != nil {
		return fmt.Errorf("target type: %w", err)
	}

	slot := c.buf[hdrSize+specSize:]
	if err := putString(slot, t.Params); err != nil {
		return fmt.Errorf("%w: %d bytes into a %d-byte slot", ErrParameterOverflow, len(t.Params), len(slot))
	}
	return nil
}

// dev returns the kernel-assigned device number from a response
// header.
func (c *command) dev() uint64 {
	return c.header().Dev
}

// resultText returns the text the kernel wrote after the first target
// spec of a status response.
func (c *command) resultText() string {
	off := int(c.header().Data_start) + specSize
	if off >= len(c.buf) {
		return ""
	}
	return cstring(c.buf[off:])
}

// putString copies s into a fixed-width NUL-terminated slot. It never
// writes past the slot and refuses strings that would not leave room
// for the terminator.
func putString(slot []byte, s string) error {
	if len(s) >= len(slot) {
		return fmt.Errorf("string of %d bytes does not fit %d-byte field", len(s), len(slot))
	}
	n := copy(slot, s)
	for i := n; i < len(slot); i++ {
		slot[i] = 0
	}
	return nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
