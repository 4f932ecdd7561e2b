// Package history implements the append-only run history log backing
// `zr history`: one JSON-encoded Record per line, newest appended last.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Record is one entry in the history log.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	TaskName   string    `json:"task_name"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	TaskCount  int       `json:"task_count"`
	RetryCount int       `json:"retry_count"`
}

// Append writes r as a new line at the end of the log at path, creating the
// file if necessary. Callers append one Record per `run`/`workflow`
// invocation; the log is never rewritten in place, only grown.
func Append(path string, r Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// ReadAll returns every record in the log at path, oldest first. A missing
// file is treated as an empty history, not an error.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("parse history log line: %w", err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
