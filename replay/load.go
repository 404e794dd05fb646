package replay

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned by LoadFile for unsupported file extensions.
var ErrUnknownFormat = errors.New("unknown log format")

// ReadNDJSON reads entries encoded as one JSON object per line. Blank lines
// are skipped.
func ReadNDJSON(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, errors.Wrapf(err, "decoding entry on line %d", line)
		}
		if err := e.validate(); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading log")
	}
	return entries, nil
}

// ReadYAML reads entries from a YAML sequence.
func ReadYAML(r io.Reader) ([]Entry, error) {
	var entries []Entry
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding yaml log")
	}
	for i, e := range entries {
		if err := e.validate(); err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
	}
	return entries, nil
}

// LoadFile reads a drive log, picking the format from the file extension.
func LoadFile(path string) ([]Entry, error) {
	var read func(io.Reader) ([]Entry, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl", ".json":
		read = ReadNDJSON
	case ".yaml", ".yml":
		read = ReadYAML
	default:
		return nil, errors.Wrap(ErrUnknownFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening log")
	}
	defer f.Close()

	entries, err := read(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return entries, nil
}

func (e Entry) validate() error {
	if e.Direction != Observed && e.Direction != Sent {
		return errors.Wrapf(ErrInvalidEntry, "direction %q", e.Direction)
	}
	return nil
}
