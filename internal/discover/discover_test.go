package discover

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"syscall"
	"testing"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

var fleet = map[string][]string{
	"web-server":        {"nginx.service", "apache2.service"},
	"database-server":   {"mysql.service", "postgresql.service"},
	"monitoring-server": {"prometheus.service", "grafana.service"},
}

func seedFleet() *journal.Memory {
	m := journal.NewMemory()
	ts := uint64(1640995200000000)
	for round := 0; round < 3; round++ {
		for _, host := range []string{"web-server", "database-server", "monitoring-server"} {
			for _, unit := range fleet[host] {
				ts += 1000000
				m.AppendEntry(model.Entry{Hostname: host, Unit: unit, TimestampUTC: ts, Message: "tick"})
			}
		}
	}
	return m
}

var loc = model.Location{Directory: "memory"}

func TestServicesScenario(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts Options
	}{
		{"cross-probe", Options{Strategy: CrossProbe}},
		{"cross-probe workers", Options{Strategy: CrossProbe, Workers: 4}},
		{"full-scan", Options{Strategy: FullScan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seedFleet()
			hosts, err := ServicesAt(context.Background(), m.Opener(), loc, tt.opts)
			if err != nil {
				t.Fatalf("ServicesAt: %v", err)
			}
			if hosts.Len() != 3 {
				t.Fatalf("hosts = %d, want 3", hosts.Len())
			}
			want := []string{"database-server", "monitoring-server", "web-server"}
			if !reflect.DeepEqual(hosts.Hostnames(), want) {
				t.Fatalf("hostnames = %v, want %v", hosts.Hostnames(), want)
			}
			for _, h := range hosts.Hosts {
				if len(h.Units) != 2 {
					t.Fatalf("%s units = %v", h.Hostname, h.Units)
				}
				if !sort.StringsAreSorted(h.Units) {
					t.Fatalf("%s units not sorted: %v", h.Hostname, h.Units)
				}
				for _, u := range h.Units {
					if !contains(fleet[h.Hostname], u) {
						t.Fatalf("%s has foreign unit %s", h.Hostname, u)
					}
				}
			}
			web, _ := hosts.FindHost("web-server")
			if web.HasUnit("mysql.service") {
				t.Fatal("web-server must not contain mysql.service")
			}
		})
	}
}

func TestStrategiesAgree(t *testing.T) {
	t.Parallel()
	m := seedFleet()
	m.Append(1640999999000000, map[string]string{model.FieldHostname: "edge-proxy"})
	m.Append(1640999999000001, map[string]string{model.FieldUnit: "orphan.service"})

	probe, err := ServicesAt(context.Background(), m.Opener(), loc, Options{Strategy: CrossProbe})
	if err != nil {
		t.Fatalf("cross-probe: %v", err)
	}
	scan, err := ServicesAt(context.Background(), m.Opener(), loc, Options{Strategy: FullScan})
	if err != nil {
		t.Fatalf("full-scan: %v", err)
	}
	if !reflect.DeepEqual(probe, scan) {
		t.Fatalf("strategies disagree:\nprobe=%+v\nscan=%+v", probe, scan)
	}
	edge, ok := probe.FindHost("edge-proxy")
	if !ok || len(edge.Units) != 0 {
		t.Fatalf("edge-proxy = %+v, %v", edge, ok)
	}
}

func TestHostsAndUnitsStoreOrder(t *testing.T) {
	t.Parallel()
	j, err := journal.Open(seedFleet().Opener(), loc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	hosts, units, err := HostsAndUnits(j)
	if err != nil {
		t.Fatalf("HostsAndUnits: %v", err)
	}
	if !reflect.DeepEqual(hosts, []string{"web-server", "database-server", "monitoring-server"}) {
		t.Fatalf("hosts = %v", hosts)
	}
	if len(units) != 6 || units[0] != "nginx.service" {
		t.Fatalf("units = %v", units)
	}
}

func TestProbeErrorFailsRun(t *testing.T) {
	t.Parallel()
	m := seedFleet()
	m.Fail(journal.OpNext, syscall.EIO)

	_, err := ServicesAt(context.Background(), m.Opener(), loc, Options{})
	if !errors.Is(err, journal.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
}

func TestUniqueErrorFailsRun(t *testing.T) {
	t.Parallel()
	m := seedFleet()
	m.Fail(journal.OpQueryUnique, syscall.ENOMEM)

	j, err := journal.Open(m.Opener(), loc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()
	if _, err := Hosts(j); !errors.Is(err, journal.ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", CrossProbe, false},
		{"cross-probe", CrossProbe, false},
		{"FULL-SCAN", FullScan, false},
		{"bogus", CrossProbe, true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
