package payloads

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrEmptyPayloadFile is returned when a payload file has no usable lines
var ErrEmptyPayloadFile = errors.New("payload file contains no payloads")

// LoadCustomPayloads reads one payload per line. Blank lines and lines
// starting with '#' are skipped.
func LoadCustomPayloads(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload file: %w", err)
	}
	defer file.Close()

	list, err := ReadPayloads(file)
	if err != nil {
		return nil, fmt.Errorf("read payload file %s: %w", path, err)
	}
	return list, nil
}

// ReadPayloads parses payloads from r using the payload file format
func ReadPayloads(r io.Reader) ([]string, error) {
	var list []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		// only a # in the first column marks a comment; "  #x" is a payload
		if line == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		list = append(list, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrEmptyPayloadFile
	}
	return list, nil
}
