package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ExtractText converts an uploaded file into plain text suitable for a
// document's content field. Supported formats are plain text (.txt),
// Markdown (.md, .markdown), JSON (.json), and CSV (.csv). Anything else,
// including binary payloads masquerading under a supported extension,
// returns ErrUnsupportedFormat so the caller can fall back to manual entry.
func ExtractText(fileName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", ErrUnsupportedFormat
	}

	switch ext {
	case ".txt":
		return strings.TrimSpace(string(data)), nil
	case ".md", ".markdown":
		return extractMarkdown(data), nil
	case ".json":
		if !json.Valid(data) {
			return "", ErrUnsupportedFormat
		}
		return strings.TrimSpace(string(data)), nil
	case ".csv":
		return extractCSV(data)
	default:
		return "", ErrUnsupportedFormat
	}
}

// extractMarkdown flattens Markdown to searchable text. Pipe tables are
// rewritten as "header: cell" fact lines so tabular facts survive chunking;
// everything else passes through with heading markers stripped.
func extractMarkdown(data []byte) string {
	var out strings.Builder
	var headers []string

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") {
			cells := splitTableRow(trimmed)
			if isTableRule(cells) {
				continue
			}
			if headers == nil {
				headers = cells
				continue
			}
			facts := make([]string, 0, len(cells))
			for i, cell := range cells {
				if cell == "" {
					continue
				}
				if i < len(headers) && headers[i] != "" {
					facts = append(facts, headers[i]+": "+cell)
				} else {
					facts = append(facts, cell)
				}
			}
			if len(facts) > 0 {
				out.WriteString(strings.Join(facts, "; "))
				out.WriteString("\n")
			}
			continue
		}
		headers = nil

		trimmed = strings.TrimLeft(trimmed, "#")
		out.WriteString(strings.TrimSpace(trimmed))
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String())
}

func splitTableRow(line string) []string {
	line = strings.Trim(line, "|")
	parts := strings.Split(line, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// isTableRule reports whether cells form a Markdown alignment row (|---|:--|).
func isTableRule(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if c == "" {
			return false
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

// extractCSV parses CSV and rejoins each record with ", " so a row reads as
// one fact line. Ragged rows are tolerated; malformed quoting is not.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return "", ErrUnsupportedFormat
	}

	var out strings.Builder
	for _, rec := range records {
		fields := make([]string, 0, len(rec))
		for _, f := range rec {
			if t := strings.TrimSpace(f); t != "" {
				fields = append(fields, t)
			}
		}
		if len(fields) == 0 {
			continue
		}
		out.WriteString(strings.Join(fields, ", "))
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String()), nil
}
