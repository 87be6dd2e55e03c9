package whitelist

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// ParseList reads a top-sites allow-list. Rows are either "rank,domain" CSV
// (Tranco, Cisco Umbrella) or one bare domain per line, where rank is the line order.
// Invalid domains are counted and skipped.
func ParseList(r io.Reader, list string) ([]entity.WhitelistEntry, int, error) {
	var entries []entity.WhitelistEntry
	skipped := 0
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		line++

		rank := line
		value := text
		if i := strings.IndexByte(text, ','); i >= 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(text[:i])); err == nil {
				rank = n
			}
			value = strings.TrimSpace(text[i+1:])
		}

		domain, err := entity.NormalizeDomain(value)
		if err != nil {
			skipped++
			continue
		}
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}

		entries = append(entries, entity.WhitelistEntry{
			Domain:     domain,
			ListSource: list,
			Rank:       rank,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read %s list: %w", list, err)
	}
	return entries, skipped, nil
}
