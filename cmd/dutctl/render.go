package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"dutlab/backend/app/dto"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	passStyle   = cellStyle.Foreground(lipgloss.Color("#25A065"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("#FF0000"))
	queuedStyle = cellStyle.Foreground(lipgloss.Color("240"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// stateStyle colours the cell holding a status or an outcome.
func stateStyle(v string) lipgloss.Style {
	switch v {
	case "Free", "Pass":
		return passStyle
	case "Busy", "Fail":
		return failStyle
	case dto.OutcomeQueued:
		return queuedStyle
	}
	return cellStyle
}

func newTable(headers []string, rows [][]string, stateCol int) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == stateCol && row >= 0 && row < len(rows) {
				return stateStyle(rows[row][col])
			}
			return cellStyle
		})
}

func renderDevices(w io.Writer, devices []dto.DeviceView) {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{
			strconv.Itoa(d.ID), d.HardwareType, d.Serial, d.ComPort, d.MacAddress,
			d.Status, strconv.Itoa(d.QueueDepth), joinIDs(d.QueuedJobs),
		})
	}
	fmt.Fprintln(w, newTable([]string{"ID", "HARDWARE", "SERIAL", "PORT", "MAC", "STATUS", "QUEUE", "QUEUED JOBS"}, rows, 5))
}

func renderLogs(w io.Writer, logs []dto.LogRecordView) {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			jobID(l.JobID), deviceLabel(l.DeviceID), l.Serial, l.TestName,
			l.Outcome, compactMetrics(l.Metrics), l.Timestamp.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(w, newTable([]string{"JOB", "DEVICE", "SERIAL", "TEST", "OUTCOME", "METRICS", "TIME"}, rows, 4))
}

func renderSubmit(w io.Writer, r dto.SubmitResult) {
	line := fmt.Sprintf("job %s: %s", jobID(r.JobID), r.Outcome)
	fmt.Fprintln(w, stateStyle(r.Outcome).Padding(0).Render(line))
	if len(r.Metrics) > 0 {
		fmt.Fprintln(w, compactMetrics(r.Metrics))
	}
}

func jobID(id *uint64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatUint(*id, 10)
}

func deviceLabel(id int) string {
	if id < 0 {
		return "external"
	}
	return strconv.Itoa(id)
}

func joinIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

// compactMetrics prints metrics as sorted key=value pairs.
func compactMetrics(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			b, _ := json.Marshal(t)
			s = string(b)
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}
