package monitor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/boristopalov/highway-evolution/pkg/events"
)

// Header is the CSV column row
var Header = []string{"reward", "length", "elapsed"}

// CSVWriter appends one row per completed episode. The first line is a
// '#'-prefixed JSON comment describing the run.
type CSVWriter struct {
	file *os.File
	w    *csv.Writer
}

type csvMeta struct {
	TStart float64 `json:"t_start"`
	EnvID  string  `json:"env_id"`
	RunID  string  `json:"run_id,omitempty"`
}

// NewCSVWriter creates (truncating) path and writes the header
func NewCSVWriter(path, envID, runID string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create monitor dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create monitor log: %w", err)
	}

	meta, err := json.Marshal(csvMeta{
		TStart: float64(time.Now().UnixNano()) / 1e9,
		EnvID:  envID,
		RunID:  runID,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "#%s\n", meta); err != nil {
		f.Close()
		return nil, fmt.Errorf("write monitor header: %w", err)
	}

	c := &CSVWriter{file: f, w: csv.NewWriter(f)}
	if err := c.write(Header); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Handle is an events.Handler for TypeEpisodeCompleted
func (c *CSVWriter) Handle(e events.Event) error {
	ep, ok := e.Payload.(events.Episode)
	if !ok {
		return nil
	}
	return c.write([]string{
		strconv.FormatFloat(ep.Reward, 'f', 6, 64),
		strconv.Itoa(ep.Length),
		strconv.FormatFloat(ep.Elapsed.Seconds(), 'f', 6, 64),
	})
}

func (c *CSVWriter) write(record []string) error {
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("write monitor row: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush monitor row: %w", err)
	}
	return nil
}

func (c *CSVWriter) Path() string {
	return c.file.Name()
}

func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

// Row is one parsed monitor log line
type Row struct {
	Reward  float64
	Length  int
	Elapsed float64
}

// ReadCSV parses a monitor log written by CSVWriter
func ReadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse monitor log: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, fmt.Errorf("monitor log line %d: expected %d fields, got %d", i+2, len(Header), len(rec))
		}
		reward, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("monitor log line %d: reward: %w", i+2, err)
		}
		length, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("monitor log line %d: length: %w", i+2, err)
		}
		elapsed, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("monitor log line %d: elapsed: %w", i+2, err)
		}
		rows = append(rows, Row{Reward: reward, Length: length, Elapsed: elapsed})
	}
	return rows, nil
}
