package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/journald-query/internal/duckdb"
	"github.com/tinytelemetry/journald-query/internal/logparse"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/otlpexport"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	// formatOTLP renders query results as an OTLP/JSON export request.
	formatOTLP = "otlp"
)

func validFormat(f string) bool {
	switch f {
	case formatTable, formatJSON, formatYAML, formatOTLP:
		return true
	}
	return false
}

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	unitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	headerStyle = lipgloss.NewStyle().Bold(true)

	severityStyles = map[string]lipgloss.Style{
		logparse.Trace: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		logparse.Debug: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		logparse.Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		logparse.Error: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		logparse.Fatal: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// printer renders command results in one output format.
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

// structured writes v as JSON or YAML. It reports false for the table format.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case formatJSON, formatOTLP:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

func (p *printer) list(title string, items []string) error {
	if items == nil {
		items = []string{}
	}
	if ok, err := p.structured(items); ok {
		return err
	}
	fmt.Fprintln(p.w, headerStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	for _, item := range items {
		fmt.Fprintln(p.w, "  "+item)
	}
	return nil
}

func (p *printer) hostsAndUnits(hosts, units []string) error {
	if hosts == nil {
		hosts = []string{}
	}
	if units == nil {
		units = []string{}
	}
	v := struct {
		Hosts []string `json:"hosts" yaml:"hosts"`
		Units []string `json:"units" yaml:"units"`
	}{hosts, units}
	if ok, err := p.structured(v); ok {
		return err
	}
	if err := p.list("Hosts", hosts); err != nil {
		return err
	}
	return p.list("Units", units)
}

func (p *printer) services(h model.Hosts) error {
	if h.Hosts == nil {
		h.Hosts = []model.Host{}
	}
	if ok, err := p.structured(h); ok {
		return err
	}
	fmt.Fprintln(p.w, headerStyle.Render(fmt.Sprintf("Hosts (%d)", h.Len())))
	for _, host := range h.Hosts {
		fmt.Fprintf(p.w, "  %s %s\n", hostStyle.Render(host.Hostname), dimStyle.Render(fmt.Sprintf("(%d units)", len(host.Units))))
		for _, u := range host.Units {
			fmt.Fprintln(p.w, "    "+unitStyle.Render(u))
		}
	}
	return nil
}

func (p *printer) entries(entries []model.Entry) error {
	if entries == nil {
		entries = []model.Entry{}
	}
	if p.format == formatOTLP {
		b, err := otlpexport.MarshalJSON(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	}
	if ok, err := p.structured(entries); ok {
		return err
	}
	for _, e := range entries {
		p.entryLine(e)
	}
	return nil
}

// entry writes a single streamed entry. Structured formats emit one
// compact document per entry so the output can be piped line by line.
func (p *printer) entry(e model.Entry) error {
	switch p.format {
	case formatJSON:
		return json.NewEncoder(p.w).Encode(e)
	case formatOTLP:
		b, err := otlpexport.MarshalJSON([]model.Entry{e})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	case formatYAML:
		fmt.Fprintln(p.w, "---")
		enc := yaml.NewEncoder(p.w)
		defer enc.Close()
		return enc.Encode(e)
	}
	p.entryLine(e)
	return nil
}

func (p *printer) entryLine(e model.Entry) {
	ts := e.Time().UTC().Format(time.RFC3339Nano)
	msg := e.Message
	if style, ok := severityStyles[logparse.FromText(msg)]; ok {
		msg = style.Render(msg)
	}
	source := strings.TrimSpace(strings.Join([]string{hostStyle.Render(e.Hostname), unitStyle.Render(e.Unit)}, " "))
	fmt.Fprintf(p.w, "%s %s %s\n", dimStyle.Render(ts), source, msg)
}

func printExportSummary(w io.Writer, format, dbPath string, written int, total int64, units []duckdb.UnitCount) error {
	if units == nil {
		units = []duckdb.UnitCount{}
	}
	summary := struct {
		DBPath   string             `json:"db_path" yaml:"db_path"`
		Written  int                `json:"written" yaml:"written"`
		Total    int64              `json:"total" yaml:"total"`
		TopUnits []duckdb.UnitCount `json:"top_units" yaml:"top_units"`
	}{dbPath, written, total, units}

	p := newPrinter(w, format)
	if ok, err := p.structured(summary); ok {
		return err
	}
	fmt.Fprintf(w, "%s %d entries into %s (%d total)\n", headerStyle.Render("Exported"), written, dimStyle.Render(dbPath), total)
	for _, u := range units {
		fmt.Fprintf(w, "  %8d  %s\n", u.Count, unitStyle.Render(u.Unit))
	}
	return nil
}
