package pkg

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrEmptySeedFile = errors.New("seed file is empty")

// LoadSeedURLs reads seed urls from filename. A CSV file needs a "url" or
// "Domain" header column; any other file is read as one url per line. Bare
// domains get an https:// prefix.
func LoadSeedURLs(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	defer file.Close()
	return ReadSeedURLs(file)
}

func ReadSeedURLs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptySeedFile
	}

	col, rows := -1, records
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "url", "domain":
			col = i
		}
		if col >= 0 {
			rows = records[1:]
			break
		}
	}
	if col < 0 {
		if len(records[0]) > 1 {
			return nil, fmt.Errorf("failed to find the url or Domain column in seed file")
		}
		col = 0
	}

	var urls []string
	for _, row := range rows {
		if len(row) <= col {
			continue
		}
		u := strings.TrimSpace(row[col])
		if u == "" {
			continue
		}
		if !strings.Contains(u, "://") {
			u = "https://" + u
		}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		return nil, ErrEmptySeedFile
	}
	return urls, nil
}
