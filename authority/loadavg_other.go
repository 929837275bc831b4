// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package authority

// readLoadAverages reports zero load on platforms without sysinfo.
// Samples still flow so the stats surface behaves uniformly.
func readLoadAverages() (load1, load5, load15 float64, err error) {
	return 0, 0, 0, nil
}
