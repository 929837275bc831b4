// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sysinfoLoadScale converts the kernel's fixed-point load figures
// (SI_LOAD_SHIFT = 16) to floats.
const sysinfoLoadScale = 1 << 16

// readLoadAverages returns the 1-, 5-, and 15-minute load averages
// from the sysinfo syscall.
func readLoadAverages() (load1, load5, load15 float64, err error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, 0, fmt.Errorf("sysinfo: %w", err)
	}
	return float64(info.Loads[0]) / sysinfoLoadScale,
		float64(info.Loads[1]) / sysinfoLoadScale,
		float64(info.Loads[2]) / sysinfoLoadScale,
		nil
}
