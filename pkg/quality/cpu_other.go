//go:build !linux

package quality

// CPUPercent estimates system CPU utilization. There is no portable source
// on this platform; 0 is treated as unknown by the evaluator.
func CPUPercent() float64 {
	return 0
}
