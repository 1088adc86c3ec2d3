// Package ingest reads the organization list, groups it by registered
// domain and seeds the state store with one record per domain.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/policy-search-crawler/internal/crawler"
)

const fieldCount = 3

// InputError reports a malformed row in the organization file.
type InputError struct {
	Line   int
	Fields int
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input line %d: expected %d tab-separated fields, got %d", e.Line, fieldCount, e.Fields)
}

// ReadRows parses the tab-separated organization file. The first line is a
// header and is discarded. Blank lines are skipped; any other row with fewer
// than three fields fails the whole read.
func ReadRows(r io.Reader) ([]crawler.Company, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		companies []crawler.Company
		line      int
	)
	for scanner.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < fieldCount {
			return nil, &InputError{Line: line, Fields: len(fields)}
		}
		companies = append(companies, crawler.Company{
			Name:      fields[0],
			LegalName: fields[1],
			URL:       strings.TrimSpace(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return companies, nil
}
