package sysinfo

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/XaviArnaus/janitor/internal/config"
	"github.com/XaviArnaus/janitor/internal/models"
	"github.com/sirupsen/logrus"
)

var sizeSuffixes = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// Templater evaluates reports against the configured thresholds
type Templater struct {
	cfg config.SystemInfoConfig
}

// NewTemplater creates a Templater
func NewTemplater(cfg config.SystemInfoConfig) *Templater {
	return &Templater{cfg: cfg}
}

// severityOf returns the severity raised by m, and whether it crossed its
// threshold at all
func (t *Templater) severityOf(m Metric) (models.Severity, bool) {
	threshold, ok := t.cfg.Thresholds[m.Name]
	if !ok || !m.Numeric || m.Value <= threshold.Value {
		return models.SeverityNone, false
	}

	severity := models.SeverityWarning
	if threshold.Type != "" {
		parsed, err := models.ParseSeverity(threshold.Type)
		if err != nil {
			logrus.Warnf("Threshold of %s has an invalid type: %v", m.Name, err)
		} else {
			severity = parsed
		}
	}
	return severity, true
}

// CrossedThresholds tells whether any metric of the report is above its
// threshold
func (t *Templater) CrossedThresholds(r Report) bool {
	for _, m := range r.Metrics {
		if _, crossed := t.severityOf(m); crossed {
			return true
		}
	}
	return false
}

// ProcessReport renders the report. The message severity is the highest
// one raised by the metrics, info when none crossed its threshold.
func (t *Templater) ProcessReport(r Report) *models.Message {
	var (
		lines      []string
		severities []models.Severity
	)

	for _, m := range r.Metrics {
		severity, crossed := t.severityOf(m)
		if crossed {
			logrus.Debugf("The metric %s is above its threshold", m.Name)
			severities = append(severities, severity)
		}
		lines = append(lines, t.reportLine(m, crossed))
	}

	return models.NewMessage(r.Hostname, strings.Join(lines, "\n"), models.MaxSeverity(severities...))
}

func (t *Templater) reportLine(m Metric, crossed bool) string {
	title := m.Name
	if name, ok := t.cfg.ItemNames[m.Name]; ok {
		title = name
	}

	value := m.Text
	if m.Numeric {
		if slices.Contains(t.cfg.HumanReadableExceptions, m.Name) {
			value = formatNumber(m.Value)
		} else {
			value = t.humanSize(m.Value)
		}
	}

	line := fmt.Sprintf("- **%s**: %s", title, value)
	if crossed {
		line += " ❗️"
	}
	return line
}

func (t *Templater) humanSize(bytes float64) string {
	if !t.cfg.HumanReadable {
		return formatNumber(bytes) + " " + sizeSuffixes[0]
	}

	i := 0
	for bytes >= 1024 && i < len(sizeSuffixes)-1 {
		bytes /= 1024
		i++
	}
	size := strings.TrimRight(strings.TrimRight(strconv.FormatFloat(bytes, 'f', 2, 64), "0"), ".")
	return size + " " + sizeSuffixes[i]
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
