package nginx

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Validate performs a structural syntax check on a rendered configuration
// document: braces must balance and every simple directive must be
// terminated with a semicolon. It is not a full nginx parser; it exists to
// catch broken rendering and malformed site fragments before they are handed
// to the proxy runtime.
func Validate(doc []byte) error {
	depth := 0
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(doc))
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasSuffix(line, "{"):
			depth++
		case line == "}":
			depth--
			if depth < 0 {
				return fmt.Errorf("line %d: unmatched closing brace", lineNo)
			}
		case strings.HasSuffix(line, ";"):
			if strings.ContainsAny(line, "{}") {
				return fmt.Errorf("line %d: brace inside directive", lineNo)
			}
		default:
			return fmt.Errorf("line %d: directive not terminated with semicolon: %q", lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan document: %w", err)
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced braces: depth %d at end of document", depth)
	}
	return nil
}
