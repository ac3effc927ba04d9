package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Read parses a log file and returns the records of the most recent game:
// everything from the last start event onward. Blank and malformed lines are
// skipped so a torn final write never blocks a resume.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Kind == KindStart {
			records = records[:0]
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return records, nil
}
