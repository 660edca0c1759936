package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Execution is one command run through the gateway.
type Execution struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	RunID      string    `json:"run_id,omitempty"`
	Tool       string    `json:"tool"`
	Command    string    `json:"command"`
	Category   string    `json:"category"` // read, write, dangerous, interactive, unknown
	Dangerous  bool      `json:"dangerous"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	Truncated  bool      `json:"truncated"`
	DurationMs int64     `json:"duration_ms"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
}

var (
	auditFileMu sync.Mutex
	auditFile   *os.File
)

// InitAuditFile opens the append-only audit log at path
func InitAuditFile(path string) error {
	if path == "" {
		return errors.New("audit file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditFileMu.Lock()
	defer auditFileMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
	}
	auditFile = f
	return nil
}

// CloseAuditFile closes the audit file
func CloseAuditFile() {
	auditFileMu.Lock()
	defer auditFileMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// RecordExecution records an execution to the database and the audit file,
// whichever are open.
func RecordExecution(e Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if DB != nil {
		query := rebind(`INSERT INTO executions (
			id, created_at, run_id, tool, command, category, dangerous,
			success, exit_code, truncated, duration_ms, error_msg
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

		_, err := DB.Exec(query, e.ID, e.CreatedAt, e.RunID, e.Tool, e.Command, e.Category, e.Dangerous,
			e.Success, e.ExitCode, e.Truncated, e.DurationMs, e.ErrorMsg)
		if err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}
	}

	auditFileMu.Lock()
	defer auditFileMu.Unlock()
	if auditFile != nil {
		if _, err := auditFile.WriteString(formatAuditLogLine(e) + "\n"); err != nil {
			return fmt.Errorf("failed to write audit file: %w", err)
		}
	}
	return nil
}

// formatAuditLogLine creates a human-readable audit log line
func formatAuditLogLine(e Execution) string {
	// Format: TIMESTAMP | RUN | TOOL | CATEGORY | STATUS | COMMAND [| ERROR]
	status := "OK"
	if !e.Success {
		status = fmt.Sprintf("EXIT %d", e.ExitCode)
	}
	run := e.RunID
	if run == "" {
		run = "-"
	}

	line := fmt.Sprintf("%s | %-36s | %-8s | %-11s | %-8s | %s",
		e.CreatedAt.Format("2006-01-02 15:04:05"),
		run,
		e.Tool,
		e.Category,
		status,
		truncate(e.Command, 200))
	if e.ErrorMsg != "" {
		line += " | ERROR: " + truncate(e.ErrorMsg, 200)
	}
	return line
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ExecutionFilter specifies filter criteria for execution queries
type ExecutionFilter struct {
	Limit      int
	RunID      string
	Tool       string
	OnlyErrors bool
	Since      time.Time
}

// ListExecutions returns recorded executions, newest first.
func ListExecutions(filter ExecutionFilter) ([]Execution, error) {
	if DB == nil {
		return nil, nil
	}

	query := `SELECT id, created_at, run_id, tool, command, category, dangerous,
		success, exit_code, truncated, duration_ms, error_msg
		FROM executions WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.OnlyErrors {
		query += " AND success = ?"
		args = append(args, false)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := DB.Query(rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.RunID, &e.Tool, &e.Command, &e.Category, &e.Dangerous,
			&e.Success, &e.ExitCode, &e.Truncated, &e.DurationMs, &e.ErrorMsg); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
