package utils

import (
	"log"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
)

// maxWorkers caps batch concurrency: every worker may hold a browser page and
// all of them share one rate limiter anyway.
const maxWorkers = 4

// GetOptimalWorkerCount determines the number of batch workers based on config and system resources.
func GetOptimalWorkerCount(configValue string) int {
	if manualWorkers, err := strconv.Atoi(configValue); err == nil && manualWorkers > 0 {
		log.Printf("Using manually configured number of workers: %d", manualWorkers)
		return manualWorkers
	}

	if configValue != "auto" && configValue != "" {
		log.Printf("WARN: Invalid workers value '%s'. Defaulting to 'auto' mode.", configValue)
	}

	cpuCores, err := cpu.Counts(true)
	if err != nil {
		log.Printf("WARN: Could not detect CPU cores. Falling back to default: %d workers.", 1)
		return 1
	}

	optimalCount := cpuCores / 4
	if optimalCount < 1 {
		optimalCount = 1
	}
	if optimalCount > maxWorkers {
		optimalCount = maxWorkers
	}

	log.Printf("System has %d logical cores. Automatically setting number of workers to: %d", cpuCores, optimalCount)
	return optimalCount
}
