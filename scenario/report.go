package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/user/nearby-blue/engine"
	"github.com/user/nearby-blue/ranging"
)

// GenerateReport renders a Markdown report of a finished run
func (r *Runner) GenerateReport(now time.Time) string {
	var sb strings.Builder
	sc := r.scenario

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", sc.Name))
	sb.WriteString(fmt.Sprintf("Generated %s, simulation `%s`, duration %v.\n\n", now.Format("2006-01-02 15:04:05"), sc.Simulation, sc.Duration()))
	if sc.Description != "" {
		sb.WriteString(sc.Description + "\n\n")
	}

	initiator, responder := r.Status()

	sb.WriteString("## Devices\n\n")
	sb.WriteString("| Role | Device | Position | Power | Link | Session | Sessions | Distance | Local token |\n")
	sb.WriteString("|------|--------|----------|-------|------|---------|----------|----------|-------------|\n")
	writeDeviceRow(&sb, sc.Initiator, r.Space.Position(sc.Initiator.ID), initiator)
	writeDeviceRow(&sb, sc.Responder, r.Space.Position(sc.Responder.ID), responder)
	sb.WriteString("\n")

	sb.WriteString("## Timeline\n\n")
	if len(sc.Timeline) == 0 {
		sb.WriteString("No events.\n\n")
	}
	for _, ev := range sc.SortedTimeline() {
		line := fmt.Sprintf("- `%6dms` **%s** %s", ev.TimeMs, ev.Device, ev.Action)
		if ev.Comment != "" {
			line += " - " + ev.Comment
		}
		sb.WriteString(line + "\n")
	}
	if len(sc.Timeline) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString("## Assertions\n\n")
	results := r.CheckAssertions()
	failed := 0
	for i, res := range results {
		mark := "✅"
		if !res.Passed {
			mark = "❌"
			failed++
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s `%s`: %s\n", i+1, mark, res.Assertion.Device, res.Assertion.Type, res.Message))
	}
	if len(results) == 0 {
		sb.WriteString("No assertions.\n")
	}
	sb.WriteString("\n")

	if failed == 0 {
		sb.WriteString("**Result:** passed\n")
	} else {
		sb.WriteString(fmt.Sprintf("**Result:** %d of %d assertions failed\n", failed, len(results)))
	}
	return sb.String()
}

func writeDeviceRow(sb *strings.Builder, dev DeviceConfig, pos engine.Vec3, st ranging.Status) {
	power := "on"
	if !st.PoweredOn {
		power = "off"
	}
	distance := "-"
	if st.Distance != nil {
		distance = st.Distance.String()
	}
	token := "-"
	if st.LocalToken != nil {
		token = st.LocalToken.String()
	}
	sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d | %s | %s |\n",
		st.Role, shortID(dev.ID), formatPosition(pos), power, st.Link, st.Session, st.SessionCount, distance, token))
}

func formatPosition(p engine.Vec3) string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// WriteReport writes GenerateReport's output to path
func (r *Runner) WriteReport(path string) error {
	if err := os.WriteFile(path, []byte(r.GenerateReport(time.Now())), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
