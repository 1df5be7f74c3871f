// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology enumerates online logical CPUs and groups them into
// physical sockets (packages). Discovery runs once at startup; the socket
// set never changes afterwards.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// onlineFile lists the online logical CPUs below the sysfs mount, as
// comma-separated single ids or inclusive "a-b" ranges.
const onlineFile = "devices/system/cpu/online"

// Socket is one physical CPU package. FirstCPU is the first online logical
// CPU found on the package; the MSR device of that core reads the
// package-wide counters, so it stands in for the whole socket.
type Socket struct {
	ID       int
	FirstCPU int
}

// Info is the discovered CPU topology.
type Info struct {
	// Sockets in ascending package id order.
	Sockets []Socket

	// OnlineCPUs in the order the kernel lists them.
	OnlineCPUs []int
}

// Discover reads the online CPU list and the per-CPU physical package id
// from the sysfs tree rooted at sysRoot (normally "/sys"). Topology is
// foundational: any missing or unparsable source is an error the caller
// must treat as fatal.
func Discover(sysRoot string) (*Info, error) {
	fs, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("mounting sysfs at %s: %w", sysRoot, err)
	}

	online, err := onlineCPUs(sysRoot)
	if err != nil {
		return nil, err
	}
	if len(online) == 0 {
		return nil, fmt.Errorf("no online CPUs listed in %s", filepath.Join(sysRoot, onlineFile))
	}

	cpus, err := fs.CPUs()
	if err != nil {
		return nil, fmt.Errorf("listing CPUs: %w", err)
	}
	byNumber := make(map[int]sysfs.CPU, len(cpus))
	for _, cpu := range cpus {
		n, err := strconv.Atoi(cpu.Number())
		if err != nil {
			continue
		}
		byNumber[n] = cpu
	}

	firstCPU := map[int]int{}
	var packageIDs []int
	for _, id := range online {
		cpu, ok := byNumber[id]
		if !ok {
			return nil, fmt.Errorf("online CPU %d has no sysfs entry", id)
		}
		topo, err := cpu.Topology()
		if err != nil {
			return nil, fmt.Errorf("reading topology of CPU %d: %w", id, err)
		}
		pkg, err := strconv.Atoi(strings.TrimSpace(topo.PhysicalPackageID))
		if err != nil {
			return nil, fmt.Errorf("parsing package id of CPU %d: %w", id, err)
		}
		if _, seen := firstCPU[pkg]; !seen {
			firstCPU[pkg] = id
			packageIDs = append(packageIDs, pkg)
		}
	}

	sort.Ints(packageIDs)
	sockets := make([]Socket, 0, len(packageIDs))
	for _, pkg := range packageIDs {
		sockets = append(sockets, Socket{ID: pkg, FirstCPU: firstCPU[pkg]})
	}

	return &Info{Sockets: sockets, OnlineCPUs: online}, nil
}

func onlineCPUs(sysRoot string) ([]int, error) {
	path := filepath.Join(sysRoot, onlineFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading online CPU list: %w", err)
	}
	cpus, err := parseCPUList(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cpus, nil
}

// parseCPUList expands a kernel CPU list such as "0-3,8,10-11" into the
// explicit ordered id sequence.
func parseCPUList(list string) ([]int, error) {
	var cpus []int
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("empty token in CPU list %q", list)
		}

		if before, after, isRange := strings.Cut(token, "-"); isRange {
			start, err := strconv.Atoi(before)
			if err != nil {
				return nil, fmt.Errorf("bad range start %q: %w", token, err)
			}
			end, err := strconv.Atoi(after)
			if err != nil {
				return nil, fmt.Errorf("bad range end %q: %w", token, err)
			}
			if end < start {
				return nil, fmt.Errorf("inverted range %q", token)
			}
			for id := start; id <= end; id++ {
				cpus = append(cpus, id)
			}
			continue
		}

		id, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("bad CPU id %q: %w", token, err)
		}
		cpus = append(cpus, id)
	}
	return cpus, nil
}
