// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSysfs builds a fake sysfs tree with the given online list and
// cpu -> physical package id mapping.
func writeSysfs(t *testing.T, online string, packages map[int]int) string {
	t.Helper()

	root := t.TempDir()
	cpuDir := filepath.Join(root, "devices", "system", "cpu")
	require.NoError(t, os.MkdirAll(cpuDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cpuDir, "online"), []byte(online+"\n"), 0o644))

	for cpu, pkg := range packages {
		topoDir := filepath.Join(cpuDir, "cpu"+strconv.Itoa(cpu), "topology")
		require.NoError(t, os.MkdirAll(topoDir, 0o755))
		files := map[string]string{
			"physical_package_id":  strconv.Itoa(pkg),
			"core_id":              strconv.Itoa(cpu),
			"core_siblings_list":   strconv.Itoa(cpu),
			"thread_siblings_list": strconv.Itoa(cpu),
		}
		for name, content := range files {
			require.NoError(t, os.WriteFile(filepath.Join(topoDir, name), []byte(content+"\n"), 0o644))
		}
	}
	return root
}

func TestDiscoverTwoSockets(t *testing.T) {
	root := writeSysfs(t, "0-3", map[int]int{0: 0, 1: 0, 2: 1, 3: 1})

	info, err := Discover(root)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, info.OnlineCPUs)
	require.Len(t, info.Sockets, 2)
	assert.Equal(t, Socket{ID: 0, FirstCPU: 0}, info.Sockets[0])
	assert.Equal(t, Socket{ID: 1, FirstCPU: 2}, info.Sockets[1])
}

func TestDiscoverSingleSocket(t *testing.T) {
	root := writeSysfs(t, "0,1", map[int]int{0: 0, 1: 0})

	info, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, info.Sockets, 1)
	assert.Equal(t, Socket{ID: 0, FirstCPU: 0}, info.Sockets[0])
}

func TestDiscoverPartiallyOffline(t *testing.T) {
	// CPU 0 offline; the socket's representative core must be the first
	// *online* CPU of the package.
	root := writeSysfs(t, "1-3", map[int]int{0: 0, 1: 0, 2: 1, 3: 1})

	info, err := Discover(root)
	require.NoError(t, err)
	require.Len(t, info.Sockets, 2)
	assert.Equal(t, Socket{ID: 0, FirstCPU: 1}, info.Sockets[0])
	assert.Equal(t, Socket{ID: 1, FirstCPU: 2}, info.Sockets[1])
}

func TestDiscoverErrors(t *testing.T) {
	t.Run("missing sysfs root", func(t *testing.T) {
		_, err := Discover(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("missing online file", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "devices", "system", "cpu"), 0o755))
		_, err := Discover(root)
		assert.Error(t, err)
	})

	t.Run("online CPU without topology", func(t *testing.T) {
		root := writeSysfs(t, "0-1", map[int]int{0: 0})
		_, err := Discover(root)
		assert.Error(t, err)
	})
}

func TestParseCPUList(t *testing.T) {
	tt := []struct {
		name    string
		list    string
		want    []int
		wantErr bool
	}{
		{name: "single", list: "0", want: []int{0}},
		{name: "range", list: "0-3", want: []int{0, 1, 2, 3}},
		{name: "mixed", list: "0-2,5,7-8", want: []int{0, 1, 2, 5, 7, 8}},
		{name: "single element range", list: "4-4", want: []int{4}},
		{name: "empty", list: "", wantErr: true},
		{name: "trailing comma", list: "0,", wantErr: true},
		{name: "inverted range", list: "3-1", wantErr: true},
		{name: "garbage", list: "zero", wantErr: true},
		{name: "garbage range", list: "1-x", wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCPUList(tc.list)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
