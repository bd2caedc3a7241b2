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

package verity

import (
	"fmt"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/aadhar-agarwal/dmverity/internal/dmctl"
)

// verifiedStatus is what a verity target reports while no corruption
// has been observed.
const verifiedStatus = "V"

// control is the slice of the device-mapper control channel the
// lifecycle needs. Implemented by *dmctl.Controller.
type control interface {
	CreateDevice(id, name string, readonly bool) error
	LoadTable(id string, readonly bool, t dmctl.Target) error
	ResumeDevice(id string) (uint64, error)
	TableStatus(id string) (string, error)
	RemoveDevice(id string, deferred bool) error
	Close() error
}

// openControl and readBack are indirected so tests can inject step
// failures without a kernel.
var (
	openControl = func() (control, error) {
		ctl, err := dmctl.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrControlUnavailable, err)
		}
		return ctl, nil
	}
	readBack = readFirstByte
)

// Setup drives the kernel through create, table load and activation,
// then proves the device readable and clean before handing it to the
// caller. On any failure after the create step the half-configured
// device is removed again, so the kernel ends up with either a fully
// working mapping or none at all. Each step's validity depends on the
// previous step's kernel-side effect; nothing past the failure point
// is attempted.
func (m *Mapping) Setup() error {
	if err := m.validateForSetup(); err != nil {
		return err
	}

	ctl, err := openControl()
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.CreateDevice(m.id, deviceName, true); err != nil {
		// Nothing was created, no rollback needed.
		return fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	if err := m.loadAndVerify(ctl); err != nil {
		m.rollback(ctl)
		m.UpperDevice = ""
		return err
	}

	log.L.WithField("device", m.UpperDevice).Info("configured dm-verity device")
	return nil
}

// loadAndVerify runs the steps that need rollback on failure: table
// load, activation, device node resolution, sanity read and status
// verification.
func (m *Mapping) loadAndVerify(ctl control) error {
	if err := ctl.LoadTable(m.id, true, dmctl.Target{
		SectorStart: 0,
		SectorCount: m.DataSize / sectorSize,
		Type:        "verity",
		Params:      m.verityTable(),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrTableLoadFailed, err)
	}

	dev, err := ctl.ResumeDevice(m.id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivateFailed, err)
	}
	m.UpperDevice = devicePath(dev)

	// Prove at least the first block verifies while rollback is still
	// possible, instead of deferring discovery to an unrelated later
	// consumer.
	if err := readBack(m.UpperDevice); err != nil {
		return fmt.Errorf("%w: %w", ErrReadbackFailed, err)
	}

	status, err := ctl.TableStatus(m.id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStatusMismatch, err)
	}
	if status != verifiedStatus {
		return &StatusMismatchError{Status: status}
	}
	return nil
}

// rollback removes the half-configured device. Best effort: a failure
// here is logged as a diagnostic and never displaces the error that
// triggered the rollback.
func (m *Mapping) rollback(ctl control) {
	if err := ctl.RemoveDevice(m.id, false); err != nil {
		log.L.WithError(err).WithField("id", m.id).Warn("failed to remove bad dm-verity device on error")
	}
}

// Remove tears the mapping down. With deferred set the kernel
// postpones the actual teardown until the last open reference to the
// device is closed, while the call itself returns immediately. On
// failure the mapping stays active and Remove may be retried.
func (m *Mapping) Remove(deferred bool) error {
	if err := m.validateForRemove(); err != nil {
		return err
	}

	ctl, err := openControl()
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.RemoveDevice(m.id, deferred); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoveFailed, err)
	}
	m.UpperDevice = ""
	return nil
}

// devicePath derives the device node from the kernel-reported device
// number of an activation response.
func devicePath(dev uint64) string {
	return fmt.Sprintf("/dev/dm-%d", unix.Minor(dev))
}

// readFirstByte opens the device read-only and reads exactly one byte,
// which forces the kernel to verify the first data block against the
// hash tree.
func readFirstByte(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 1)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if n != len(buf) {
		return fmt.Errorf("read %s: short read", path)
	}
	return nil
}
