// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()

	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.GoOS)
	assert.Equal(t, runtime.GOARCH, info.GoArch)
}

func TestVersionValues(t *testing.T) {
	testCases := []struct {
		name   string
		ver    string
		time   string
		branch string
		commit string
	}{
		{
			name: "empty values",
		},
		{
			name:   "typical values",
			ver:    "v0.3.0",
			time:   "2026-08-01T12:00:00Z",
			branch: "main",
			commit: "abcdef123456",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			version = tc.ver
			buildTime = tc.time
			gitBranch = tc.branch
			gitCommit = tc.commit

			info := Info()

			assert.Equal(t, tc.ver, info.Version)
			assert.Equal(t, tc.time, info.BuildTime)
			assert.Equal(t, tc.branch, info.GitBranch)
			assert.Equal(t, tc.commit, info.GitCommit)
		})
	}
}
