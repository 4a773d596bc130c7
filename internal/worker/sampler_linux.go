//go:build linux

package worker

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// defaultSampler reads /proc/<pid>/stat and /proc/<pid>/status for CPU
// ticks and resident memory, the only platform with a reliable
// process-scoped reading without an external dependency. ResourceSampler
// stays pluggable so other platforms can supply their own.
type defaultSampler struct{}

var clockTicksPerSecond = 100.0 // sysconf(_SC_CLK_TCK) is 100 on virtually all Linux kernels

func (defaultSampler) Sample(pid int) (cpuPercent, memoryMB float64, err error) {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(statPath)
	if err != nil {
		return 0, 0, err
	}
	// Fields are space separated; the command name (field 2) may itself
	// contain spaces and is wrapped in parens, so split after the closing paren.
	s := string(data)
	closeParen := strings.LastIndex(s, ")")
	if closeParen < 0 {
		return 0, 0, fmt.Errorf("sampler: unexpected /proc/%d/stat format", pid)
	}
	fields := strings.Fields(s[closeParen+1:])
	// fields[0] is state (field 3 overall); utime is field 14, stime field 15,
	// i.e. fields[11] and fields[12] in this post-comm-split slice.
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("sampler: too few fields in /proc/%d/stat", pid)
	}
	utime, _ := strconv.ParseFloat(fields[11], 64)
	stime, _ := strconv.ParseFloat(fields[12], 64)
	totalSeconds := (utime + stime) / clockTicksPerSecond

	uptimeSeconds, err := readUptimeSeconds()
	if err == nil && uptimeSeconds > 0 {
		cpuPercent = 100 * totalSeconds / uptimeSeconds
	}

	memoryMB, _ = readRSSMB(pid)
	return cpuPercent, memoryMB, nil
}

func readUptimeSeconds() (float64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("sampler: empty /proc/uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func readRSSMB(pid int) (float64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.ParseFloat(fields[1], 64)
				if err != nil {
					return 0, err
				}
				return kb / 1024.0, nil
			}
		}
	}
	return 0, fmt.Errorf("sampler: VmRSS not found for pid %d", pid)
}
