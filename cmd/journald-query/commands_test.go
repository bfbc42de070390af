package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/journald-query/internal/discover"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/reader"
	"github.com/tinytelemetry/journald-query/internal/socketrpc"
)

// 2022-01-01T00:00:00Z onwards, one minute apart.
const exportFixture = `{"__REALTIME_TIMESTAMP":"1640995200000000","_HOSTNAME":"web-server","_SYSTEMD_UNIT":"nginx.service","MESSAGE":"GET /index.html 200"}
{"__REALTIME_TIMESTAMP":"1640995260000000","_HOSTNAME":"web-server","_SYSTEMD_UNIT":"sshd.service","MESSAGE":"Accepted publickey for deploy"}
{"__REALTIME_TIMESTAMP":"1640995320000000","_HOSTNAME":"database-server","_SYSTEMD_UNIT":"mysql.service","MESSAGE":"ERROR 1045 access denied"}
{"__REALTIME_TIMESTAMP":"1640995380000000","_HOSTNAME":"web-server","_SYSTEMD_UNIT":"nginx.service","MESSAGE":"GET /health 200"}
`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := os.WriteFile(path, []byte(exportFixture), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHostsCommand(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	out, err := runCLI(t, "hosts", "--files", file, "--format", "json")
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	var hosts []string
	if err := json.Unmarshal([]byte(out), &hosts); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if want := []string{"web-server", "database-server"}; !reflect.DeepEqual(hosts, want) {
		t.Fatalf("hosts = %v, want %v", hosts, want)
	}
}

func TestUnitsCommandTable(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	out, err := runCLI(t, "units", "-f", file)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	for _, want := range []string{"Units (3)", "nginx.service", "sshd.service", "mysql.service"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHostsUnitsCommand(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	out, err := runCLI(t, "hosts-units", "-f", file, "-o", "yaml")
	if err != nil {
		t.Fatalf("hosts-units: %v", err)
	}
	var got struct {
		Hosts []string `yaml:"hosts"`
		Units []string `yaml:"units"`
	}
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Hosts) != 2 || len(got.Units) != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestServicesCommandStrategies(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	want := model.Hosts{Hosts: []model.Host{
		{Hostname: "database-server", Units: []string{"mysql.service"}},
		{Hostname: "web-server", Units: []string{"nginx.service", "sshd.service"}},
	}}

	for _, args := range [][]string{
		{"--strategy", "cross-probe"},
		{"--strategy", "full-scan"},
		{"--strategy", "cross-probe", "--discover-workers", "2"},
	} {
		out, err := runCLI(t, append([]string{"services", "-f", file, "-o", "json"}, args...)...)
		if err != nil {
			t.Fatalf("services %v: %v", args, err)
		}
		var got model.Hosts
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("services %v = %+v, want %+v", args, got, want)
		}
	}
}

func TestQueryCommand(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "whole range",
			args: []string{"--since", "2022-01-01", "--until", "2022-01-02"},
			want: []string{"GET /index.html 200", "Accepted publickey for deploy", "ERROR 1045 access denied", "GET /health 200"},
		},
		{
			name: "host and unit",
			args: []string{"--since", "1640995200", "--until", "1640995380", "-H", "web-server", "-u", "nginx.service"},
			want: []string{"GET /index.html 200", "GET /health 200"},
		},
		{
			name: "message filter",
			args: []string{"--since", "2022-01-01T00:00:00Z", "--until", "2022-01-01T00:05:00Z", "--grep", "GET"},
			want: []string{"GET /index.html 200", "GET /health 200"},
		},
		{
			name: "inverted range",
			args: []string{"--since", "2022-01-02", "--until", "2022-01-01"},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, append([]string{"query", "-f", file, "-o", "json"}, tt.args...)...)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			var entries []model.Entry
			if err := json.Unmarshal([]byte(out), &entries); err != nil {
				t.Fatalf("decode %q: %v", out, err)
			}
			got := make([]string, len(entries))
			for i, e := range entries {
				got[i] = e.Message
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("messages = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryCommandOTLP(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	out, err := runCLI(t, "query", "-f", file, "-o", "otlp", "--since", "2022-01-01", "--until", "2022-01-02", "-u", "mysql.service")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, want := range []string{"resourceLogs", "service.name", "mysql.service", "SEVERITY_NUMBER_ERROR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestQueryCommandBadTime(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	_, err := runCLI(t, "query", "-f", file, "--since", "not a time")
	if err == nil || !strings.Contains(err.Error(), "--since") {
		t.Fatalf("err = %v, want --since error", err)
	}
}

func TestTailCommandMax(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	// The fixture is years old; a large start offset brings it into range.
	out, err := runCLI(t, "tail", "-f", file, "-u", "nginx.service", "--start-offset", "87600h", "-n", "2", "-o", "json")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	var e model.Entry
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Message != "GET /health 200" {
		t.Fatalf("second entry = %+v", e)
	}
}

func TestForwardRequiresEndpoint(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	_, err := runCLI(t, "forward", "-f", file)
	if err == nil || !strings.Contains(err.Error(), "otlp-endpoint") {
		t.Fatalf("err = %v, want missing endpoint", err)
	}
}

func TestViaSocket(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)

	sock := filepath.Join(t.TempDir(), "jq.sock")
	r := reader.New(nil, model.Location{Files: []string{file}}, discover.Options{})
	srv := socketrpc.NewServer(sock, r)
	if err := srv.Start(); err != nil {
		t.Fatalf("start socket server: %v", err)
	}
	defer srv.Stop()

	// The local location does not exist; only the socket can answer.
	out, err := runCLI(t, "hosts", "--via-socket", "--socket-path", sock, "-D", "/nonexistent", "-o", "json")
	if err != nil {
		t.Fatalf("hosts via socket: %v", err)
	}
	var hosts []string
	if err := json.Unmarshal([]byte(out), &hosts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("hosts = %v", hosts)
	}
}

func TestExportCommand(t *testing.T) {
	resetConfigEnv(t)
	file := writeExport(t)
	db := filepath.Join(t.TempDir(), "export.duckdb")

	out, err := runCLI(t, "export", "-f", file, "--db-path", db, "--since", "2022-01-01", "--until", "2022-01-02", "-o", "json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var summary struct {
		Written  int   `json:"written"`
		Total    int64 `json:"total"`
		TopUnits []struct {
			Unit  string `json:"unit"`
			Count int64  `json:"count"`
		} `json:"top_units"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if summary.Written != 4 || summary.Total != 4 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.TopUnits) == 0 || summary.TopUnits[0].Unit != "nginx.service" || summary.TopUnits[0].Count != 2 {
		t.Fatalf("top units = %+v", summary.TopUnits)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Version:    dev") {
		t.Fatalf("output = %q", out)
	}
}
