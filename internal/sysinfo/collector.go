package sysinfo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Collector reads the metrics of the local host
type Collector struct {
	diskPath    string
	cpuInterval time.Duration
}

// NewCollector creates a Collector reporting the disk holding diskPath
func NewCollector(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{diskPath: diskPath, cpuInterval: time.Second}
}

// Collect takes a snapshot of CPU, memory and disk usage
func (c *Collector) Collect(ctx context.Context) (Report, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading host info: %w", err)
	}
	report := Report{Hostname: info.Hostname}

	logrus.Debug("Getting CPU data")
	percents, err := cpu.PercentWithContext(ctx, c.cpuInterval, false)
	if err != nil {
		return Report{}, fmt.Errorf("reading cpu usage: %w", err)
	}
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Report{}, fmt.Errorf("reading cpu count: %w", err)
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = round2(percents[0])
	}

	logrus.Debug("Getting memory data")
	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading memory usage: %w", err)
	}
	memPercent := 0.0
	if memory.Total > 0 {
		memPercent = round2(float64(memory.Used) / float64(memory.Total) * 100)
	}

	logrus.Debugf("Getting disk data of %s", c.diskPath)
	usage, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return Report{}, fmt.Errorf("reading disk usage of %s: %w", c.diskPath, err)
	}

	report.Metrics = []Metric{
		numeric("cpu_percent", cpuPercent),
		numeric("cpu_count", float64(count)),
		numeric("mem_total", float64(memory.Total)),
		numeric("mem_avail", float64(memory.Available)),
		numeric("mem_used", float64(memory.Used)),
		numeric("mem_free", float64(memory.Free)),
		numeric("mem_percent", memPercent),
		numeric("disk_usage_total", float64(usage.Total)),
		numeric("disk_usage_used", float64(usage.Used)),
		numeric("disk_usage_free", float64(usage.Free)),
		numeric("disk_usage_percent", round2(usage.UsedPercent)),
	}

	return report, nil
}

func numeric(name string, value float64) Metric {
	return Metric{Name: name, Value: value, Numeric: true}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
