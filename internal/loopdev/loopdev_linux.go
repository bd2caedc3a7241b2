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

// Package loopdev attaches image files to loop devices so plain files
// can back a device-mapper target.
package loopdev

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const controlPath = "/dev/loop-control"

// Attach binds path to a free loop device and returns the device node.
// The device is read-only and does not autoclear: a verity target
// needs it to stay active after this process exits, so releasing it is
// the caller's job via Detach.
func Attach(path string) (string, error) {
	ctl, err := unix.Open(controlPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", controlPath, err)
	}
	defer unix.Close(ctl)

	num, err := unix.IoctlRetInt(ctl, unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return "", fmt.Errorf("no free loop device: %w", err)
	}
	device := fmt.Sprintf("/dev/loop%d", num)

	backing, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(backing)

	loop, err := unix.Open(device, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(loop)

	if err := unix.IoctlSetInt(loop, unix.LOOP_SET_FD, backing); err != nil {
		return "", fmt.Errorf("bind %s to %s: %w", path, device, err)
	}

	var info unix.LoopInfo64
	info.Flags = unix.LO_FLAGS_READ_ONLY
	// The file name slot is informational and bounded; long paths are
	// truncated, never written past the slot.
	copy(info.File_name[:len(info.File_name)-1], path)
	if err := unix.IoctlLoopSetStatus64(loop, &info); err != nil {
		unix.IoctlSetInt(loop, unix.LOOP_CLR_FD, 0)
		return "", fmt.Errorf("configure %s: %w", device, err)
	}

	return device, nil
}

// Detach releases a loop device previously returned by Attach.
func Detach(device string) error {
	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd)

	if err := unix.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0); err != nil {
		return fmt.Errorf("detach %s: %w", device, err)
	}
	return nil
}
