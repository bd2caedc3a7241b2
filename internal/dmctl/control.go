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

// Package dmctl speaks the device-mapper control protocol: it encodes
// the fixed-layout ioctl command blocks and issues them against
// /dev/mapper/control. Devices are addressed by the UUID placed in the
// command header, so concurrent controllers managing different devices
// do not interfere.
package dmctl

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ControlPath is the device-mapper control node.
const ControlPath = "/dev/mapper/control"

// Controller owns an open handle to the control node. One controller
// is opened per logical operation and closed when it completes; the
// handle is never cached across unrelated operations.
type Controller struct {
	fd int
}

// Open opens the control node read/write with close-on-exec semantics.
// The caller must Close the controller on every return path. Open
// failure is fatal to the calling operation; there are no retries.
func Open() (*Controller, error) {
	fd, err := unix.Open(ControlPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ControlPath, err)
	}
	return &Controller{fd: fd}, nil
}

// Close releases the control handle.
func (c *Controller) Close() error {
	return unix.Close(c.fd)
}

func (c *Controller) ioctl(req uint, cmd *command) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(req), uintptr(unsafe.Pointer(&cmd.buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// CreateDevice registers a new, empty mapped device. The name is the
// kernel-visible device name; the id is the UUID used to address the
// device in every later call. With readonly set the device rejects
// writes for its whole lifetime.
func (c *Controller) CreateDevice(id, name string, readonly bool) error {
	cmd, err := newCommand(id, roFlag(readonly), specSize+paramsSize)
	if err != nil {
		return err
	}
	if err := cmd.setName(name); err != nil {
		return err
	}
	return c.ioctl(unix.DM_DEV_CREATE, cmd)
}

// LoadTable fills the inactive table slot of the device identified by
// id with a single target. The table only becomes live on the next
// resume.
func (c *Controller) LoadTable(id string, readonly bool, t Target) error {
	cmd, err := newCommand(id, roFlag(readonly), specSize+paramsSize)
	if err != nil {
		return err
	}
	if err := cmd.setTarget(t); err != nil {
		return err
	}
	return c.ioctl(unix.DM_TABLE_LOAD, cmd)
}

// ResumeDevice activates the most recently loaded table and returns
// the kernel-assigned device number. The kernel uses one opcode for
// suspend and resume: issued against a device that has an inactive
// table loaded and is not currently suspended, it atomically swaps the
// table in and marks the device live.
func (c *Controller) ResumeDevice(id string) (uint64, error) {
	cmd, err := newCommand(id, 0, specSize+paramsSize)
	if err != nil {
		return 0, err
	}
	if err := c.ioctl(unix.DM_DEV_SUSPEND, cmd); err != nil {
		return 0, err
	}
	return cmd.dev(), nil
}

// TableStatus queries the live table and returns the first target's
// status text. For a verity target this is "V" while no corruption has
// been observed and "C" once it has.
func (c *Controller) TableStatus(id string) (string, error) {
	cmd, err := newCommand(id, 0, specSize+paramsSize)
	if err != nil {
		return "", err
	}
	if err := c.ioctl(unix.DM_TABLE_STATUS, cmd); err != nil {
		return "", err
	}
	if cmd.header().Flags&unix.DM_BUFFER_FULL_FLAG != 0 {
		return "", errors.New("status response truncated")
	}
	return cmd.resultText(), nil
}

// RemoveDevice tears down the device identified by id. With deferred
// set the kernel postpones the actual teardown until the last open
// reference to the device is closed, while the call itself returns
// immediately.
func (c *Controller) RemoveDevice(id string, deferred bool) error {
	var flags uint32
	if deferred {
		flags = unix.DM_DEFERRED_REMOVE
	}
	cmd, err := newCommand(id, flags, 0)
	if err != nil {
		return err
	}
	return c.ioctl(unix.DM_DEV_REMOVE, cmd)
}

func roFlag(readonly bool) uint32 {
	if readonly {
		return unix.DM_READONLY_FLAG
	}
	return 0
}
