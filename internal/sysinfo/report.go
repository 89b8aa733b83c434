// Package sysinfo collects host metrics and turns them into a Message when
// a configured threshold is crossed.
package sysinfo

import (
	"fmt"
	"sort"
	"strconv"
)

const hostnameKey = "hostname"

// Metric is one named measure of a report. Text is used for values that
// are not numbers, which are shown but never compared to a threshold.
type Metric struct {
	Name    string
	Value   float64
	Text    string
	Numeric bool
}

// Report is a snapshot of one host
type Report struct {
	Hostname string
	Metrics  []Metric
}

// ReportFromMap builds a report from the sys_data document posted to the
// listener. Metrics are sorted by name.
func ReportFromMap(data map[string]any) (Report, error) {
	report := Report{Hostname: "unknown host"}

	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := data[name]
		if name == hostnameKey {
			report.Hostname = fmt.Sprint(value)
			continue
		}

		switch v := value.(type) {
		case float64:
			report.Metrics = append(report.Metrics, Metric{Name: name, Value: v, Numeric: true})
		case int:
			report.Metrics = append(report.Metrics, Metric{Name: name, Value: float64(v), Numeric: true})
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				report.Metrics = append(report.Metrics, Metric{Name: name, Value: f, Numeric: true})
			} else {
				report.Metrics = append(report.Metrics, Metric{Name: name, Text: v})
			}
		case nil:
			return Report{}, fmt.Errorf("metric %q has no value", name)
		default:
			report.Metrics = append(report.Metrics, Metric{Name: name, Text: fmt.Sprint(v)})
		}
	}

	return report, nil
}

// ToMap is the inverse of ReportFromMap, the sys_data document sent to a
// remote listener
func (r Report) ToMap() map[string]any {
	data := make(map[string]any, len(r.Metrics)+1)
	data[hostnameKey] = r.Hostname
	for _, m := range r.Metrics {
		if m.Numeric {
			data[m.Name] = m.Value
		} else {
			data[m.Name] = m.Text
		}
	}
	return data
}
