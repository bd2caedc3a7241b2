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

// Package verity configures read-only, integrity-verified block
// devices backed by the kernel's dm-verity target.
//
// A Mapping describes one device: a backing block device holding the
// protected data region with its hash tree appended directly after it,
// the byte length of that region, and the root digest and salt that
// anchor the tree. Setup drives the device-mapper control protocol
// through create, table load and activation, proves the device
// readable and clean, and either hands back a fully working device or
// rolls the kernel back to having none at all.
package verity

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

const (
	// deviceName is the kernel-visible name given to every mapping.
	// Devices are addressed by their UUID; the name is informational.
	deviceName = "verity-bundle"

	// blockSize is the data and hash block size of the verity targets
	// this package configures.
	blockSize = 4096

	// sectorSize is the device-mapper sector unit.
	sectorSize = 512
)

// Mapping is one dm-verity device. Construct it with NewMapping,
// populate the input fields, then call Setup. A Mapping is not safe
// for concurrent Setup/Remove calls; distinct Mappings are independent
// of each other.
type Mapping struct {
	// LowerDevice is the backing block device holding both the
	// protected data region and the hash tree appended after it.
	LowerDevice string

	// DataSize is the byte length of the protected data region. Must
	// be a positive multiple of 4096.
	DataSize uint64

	// RootDigest and Salt are hex strings fed verbatim into the verity
	// table line. Their computation and verification happen elsewhere;
	// they arrive here pre-validated.
	RootDigest string
	Salt       string

	// UpperDevice is the mapped device node. Empty until Setup
	// succeeds, cleared again by a successful Remove.
	UpperDevice string

	id string
}

// NewMapping returns a Mapping with a fresh random identifier. The
// identifier doubles as the kernel-side device UUID and correlates
// every control command issued for this mapping.
func NewMapping() *Mapping {
	return &Mapping{id: uuid.New().String()}
}

// MappingWithID reconstructs the handle for an already-active mapping,
// so a different process than the one that ran Setup can remove it.
func MappingWithID(id, upperDevice string) *Mapping {
	return &Mapping{id: id, UpperDevice: upperDevice}
}

// ID returns the mapping's immutable identifier.
func (m *Mapping) ID() string {
	return m.id
}

// verityTable builds the construction parameters for a verity target
// whose hash tree sits directly after the data region on the same
// device: version 1, identical data and hash device, 4096-byte data
// and hash blocks, and a hash start block equal to the data block
// count.
func (m *Mapping) verityTable() string {
	blocks := m.DataSize / blockSize
	return fmt.Sprintf("1 %s %s %d %d %d %d sha256 %s %s",
		m.LowerDevice, m.LowerDevice, blockSize, blockSize, blocks, blocks, m.RootDigest, m.Salt)
}

// validateForSetup rejects caller misuse before any kernel call is
// attempted. These are programming errors in the caller, not
// environmental failures.
func (m *Mapping) validateForSetup() error {
	if m.id == "" {
		return fmt.Errorf("mapping has no identifier, use NewMapping: %w", errdefs.ErrInvalidArgument)
	}
	if m.LowerDevice == "" || m.RootDigest == "" || m.Salt == "" {
		return fmt.Errorf("mapping is missing lower device, root digest or salt: %w", errdefs.ErrInvalidArgument)
	}
	if m.DataSize == 0 || m.DataSize%blockSize != 0 {
		return fmt.Errorf("data size %d is not a positive multiple of %d: %w", m.DataSize, blockSize, errdefs.ErrInvalidArgument)
	}
	if m.UpperDevice != "" {
		return fmt.Errorf("mapping is already set up at %s: %w", m.UpperDevice, errdefs.ErrFailedPrecondition)
	}
	return nil
}

// validateForRemove rejects removal of a mapping that was never set
// up.
func (m *Mapping) validateForRemove() error {
	if m.id == "" {
		return fmt.Errorf("mapping has no identifier: %w", errdefs.ErrInvalidArgument)
	}
	if m.UpperDevice == "" {
		return fmt.Errorf("mapping is not set up: %w", errdefs.ErrFailedPrecondition)
	}
	return nil
}
