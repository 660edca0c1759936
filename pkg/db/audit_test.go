package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func initTestDB(t *testing.T) {
	t.Helper()
	if err := Init(filepath.Join(t.TempDir(), "audit.db")); err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func TestInitWithConfigUnsupported(t *testing.T) {
	if err := InitWithConfig(DBConfig{Type: "oracle"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestInitSQLiteRequiresPath(t *testing.T) {
	if err := InitWithConfig(DBConfig{Type: DBTypeSQLite}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRecordAndListExecutions(t *testing.T) {
	initTestDB(t)

	entries := []Execution{
		{RunID: "run-1", Tool: "kubectl", Command: "kubectl get pods", Category: "read-only", Success: true, DurationMs: 12},
		{RunID: "run-1", Tool: "kubectl", Command: "kubectl delete pod x", Category: "write", ExitCode: 1, ErrorMsg: "not found"},
		{RunID: "run-2", Tool: "trivy", Command: "trivy image nginx", Category: "unknown", Success: true, Truncated: true},
	}
	for i, e := range entries {
		e.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := RecordExecution(e); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
	}

	all, err := ListExecutions(ExecutionFilter{})
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d executions, want 3", len(all))
	}
	if all[0].Tool != "trivy" || !all[0].Truncated {
		t.Errorf("newest = %+v, want the trivy run", all[0])
	}
	if all[0].ID == "" {
		t.Error("ID was not generated")
	}

	tests := []struct {
		name   string
		filter ExecutionFilter
		want   int
	}{
		{name: "by run", filter: ExecutionFilter{RunID: "run-1"}, want: 2},
		{name: "by tool", filter: ExecutionFilter{Tool: "trivy"}, want: 1},
		{name: "only errors", filter: ExecutionFilter{OnlyErrors: true}, want: 1},
		{name: "limit", filter: ExecutionFilter{Limit: 1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ListExecutions(tt.filter)
			if err != nil {
				t.Fatalf("ListExecutions() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d executions, want %d", len(got), tt.want)
			}
		})
	}

	failed, _ := ListExecutions(ExecutionFilter{OnlyErrors: true})
	if failed[0].ErrorMsg != "not found" || failed[0].ExitCode != 1 {
		t.Errorf("failed execution = %+v", failed[0])
	}
}

func TestListExecutionsWithoutDB(t *testing.T) {
	Close()
	got, err := ListExecutions(ExecutionFilter{})
	if err != nil || got != nil {
		t.Errorf("ListExecutions() = %v, %v; want nil, nil", got, err)
	}
}

func TestAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	if err := InitAuditFile(path); err != nil {
		t.Fatalf("InitAuditFile() error = %v", err)
	}
	defer CloseAuditFile()

	if err := RecordExecution(Execution{Tool: "kubectl", Command: "kubectl get ns", Category: "read-only", Success: true}); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}
	if err := RecordExecution(Execution{Tool: "kubectl", Command: "kubectl apply -f x", ExitCode: 2, ErrorMsg: "boom"}); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	if !strings.Contains(lines[0], "kubectl get ns") || !strings.Contains(lines[0], "| OK ") {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "EXIT 2") || !strings.HasSuffix(lines[1], "ERROR: boom") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestFormatAuditLogLine(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	line := formatAuditLogLine(Execution{CreatedAt: ts, Tool: "kubectl", Command: strings.Repeat("x", 300), Success: true})
	if !strings.HasPrefix(line, "2024-05-01 10:30:00 | -") {
		t.Errorf("line = %q", line)
	}
	if !strings.HasSuffix(line, "...") {
		t.Error("long command not truncated")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	initTestDB(t)

	old := Execution{Tool: "kubectl", Command: "old", CreatedAt: time.Now().AddDate(0, 0, -40), Success: true}
	recent := Execution{Tool: "kubectl", Command: "recent", CreatedAt: time.Now(), Success: true}
	for _, e := range []Execution{old, recent} {
		if err := RecordExecution(e); err != nil {
			t.Fatal(err)
		}
	}

	n, err := PurgeOlderThan(30)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	left, _ := ListExecutions(ExecutionFilter{})
	if len(left) != 1 || left[0].Command != "recent" {
		t.Errorf("remaining = %+v", left)
	}

	if n, _ := PurgeOlderThan(0); n != 0 {
		t.Error("zero days must keep everything")
	}
}

func TestStartRetention(t *testing.T) {
	initTestDB(t)
	if err := RecordExecution(Execution{Command: "old", CreatedAt: time.Now().AddDate(0, 0, -10)}); err != nil {
		t.Fatal(err)
	}

	stop, err := StartRetention(7, "@daily")
	if err != nil {
		t.Fatalf("StartRetention() error = %v", err)
	}
	stop()

	left, _ := ListExecutions(ExecutionFilter{})
	if len(left) != 0 {
		t.Errorf("initial purge did not run: %+v", left)
	}

	if _, err := StartRetention(7, "not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRebind(t *testing.T) {
	defer func() { currentDBType = DBTypeSQLite }()

	currentDBType = DBTypePostgres
	if got := rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind() = %q", got)
	}
	currentDBType = DBTypeMySQL
	if got := rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind() = %q", got)
	}
}
