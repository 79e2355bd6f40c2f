package quality

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// CPUPercent estimates system CPU utilization from the one-minute load
// average normalized by core count. Returns 0 when the load average cannot
// be read, which the evaluator treats as unknown.
func CPUPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}

	pct := load / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
