//go:build linux && cgo

package journal

import (
	"os"
	"testing"

	"github.com/tinytelemetry/journald-query/internal/model"
)

func TestNativeDirectoryUniqueHosts(t *testing.T) {
	if _, err := os.Stat(model.DefaultJournalDir); err != nil {
		t.Skipf("no journal directory: %v", err)
	}
	j, err := OpenDirectory(model.DefaultJournalDir)
	if err != nil {
		t.Skipf("OpenDirectory: %v", err)
	}
	defer j.Close()

	hosts, err := j.UniqueValues(model.FieldHostname)
	if err != nil {
		t.Fatalf("UniqueValues: %v", err)
	}
	for _, h := range hosts {
		if h == "" {
			t.Fatal("empty hostname returned")
		}
	}
}
