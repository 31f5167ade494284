package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	for root, fsys := range map[string]fs.FS{"events": EventsFS, "projections": ProjectionsFS} {
		entries, err := fs.ReadDir(fsys, root)
		if err != nil {
			t.Fatalf("read %s migrations: %v", root, err)
		}
		if len(entries) == 0 {
			t.Fatalf("expected %s migrations to be embedded", root)
		}
		for _, entry := range entries {
			content, err := fs.ReadFile(fsys, root+"/"+entry.Name())
			if err != nil {
				t.Fatalf("read %s: %v", entry.Name(), err)
			}
			if !strings.Contains(string(content), "-- +migrate Up") {
				t.Fatalf("%s/%s is missing an Up section", root, entry.Name())
			}
		}
	}
}
