package metrics

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// SystemInfo holds static system information captured once at process
// startup, surfaced alongside the Prometheus series for operators who want
// a quick snapshot without standing up a scrape target.
type SystemInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	Hostname      string `json:"hostname"`
	CPULogical    int    `json:"cpu_logical"`
	GoVersion     string `json:"go_version"`
	InContainer   bool   `json:"in_container"`
	ContainerKind string `json:"container_kind,omitempty"`
}

var (
	systemInfo     *SystemInfo
	systemInfoOnce sync.Once
)

// GetSystemInfo returns the process-wide SystemInfo, captured once.
func GetSystemInfo() *SystemInfo {
	systemInfoOnce.Do(func() {
		systemInfo = captureSystemInfo()
	})
	return systemInfo
}

func captureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}
	info.InContainer, info.ContainerKind = detectContainer()
	return info
}

func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}

// RuntimeMetrics captures memory/goroutine deltas around one execution.
// The trace's engine_end payload does not carry these values.
type RuntimeMetrics struct {
	MemoryStartMB  float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutineEnd   int
}

// CaptureStart snapshots runtime state at the beginning of an execution.
func CaptureStart() *RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &RuntimeMetrics{
		MemoryStartMB:  float64(m.Alloc) / 1024 / 1024,
		GoroutineStart: runtime.NumGoroutine(),
	}
}

// Finalize snapshots runtime state at the end of an execution.
func (rm *RuntimeMetrics) Finalize() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	rm.MemoryEndMB = float64(m.Alloc) / 1024 / 1024
	rm.GoroutineEnd = runtime.NumGoroutine()
}

// ToMap renders RuntimeMetrics for inclusion in an EngineEvent payload.
func (rm *RuntimeMetrics) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"memory_start_mb": rm.MemoryStartMB,
		"memory_end_mb":   rm.MemoryEndMB,
		"goroutine_start": rm.GoroutineStart,
		"goroutine_end":   rm.GoroutineEnd,
	}
}
