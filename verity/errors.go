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
	"errors"
	"fmt"

	"github.com/aadhar-agarwal/dmverity/internal/dmctl"
)

// Setup and Remove wrap the failing step's kernel error with one of
// these kinds, so callers can tell the steps apart with errors.Is
// while still seeing the underlying errno in the message.
var (
	// ErrControlUnavailable: /dev/mapper/control could not be opened.
	ErrControlUnavailable = errors.New("device-mapper control unavailable")

	// ErrCreateFailed: the empty device could not be registered.
	// Nothing exists kernel-side after this, so no rollback runs.
	ErrCreateFailed = errors.New("failed to create dm device")

	// ErrTableLoadFailed: the verity table was rejected, or its
	// parameter line overflowed the command buffer (see
	// ErrParameterOverflow).
	ErrTableLoadFailed = errors.New("failed to load dm table")

	// ErrActivateFailed: the loaded table could not be resumed.
	ErrActivateFailed = errors.New("failed to resume dm device")

	// ErrReadbackFailed: the activated device could not serve its
	// first byte.
	ErrReadbackFailed = errors.New("check read from dm-verity device failed")

	// ErrStatusMismatch: the table status could not be queried or was
	// not the verified-clean "V". A *StatusMismatchError carrying the
	// unexpected text unwraps to this.
	ErrStatusMismatch = errors.New("dm-verity status check failed")

	// ErrRemoveFailed: removal failed; the mapping stays active and
	// Remove may be retried.
	ErrRemoveFailed = errors.New("failed to remove dm device")

	// ErrParameterOverflow reports a verity table line that does not
	// fit the fixed parameter slot. Surfaces wrapped in
	// ErrTableLoadFailed.
	ErrParameterOverflow = dmctl.ErrParameterOverflow
)

// StatusMismatchError reports a verity status other than "V".
type StatusMismatchError struct {
	// Status is the text the kernel returned. "C" means corruption has
	// already been observed on the device.
	Status string
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("unexpected dm-verity status %q (instead of %q)", e.Status, verifiedStatus)
}

func (e *StatusMismatchError) Unwrap() error {
	return ErrStatusMismatch
}
