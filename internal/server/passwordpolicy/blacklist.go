package passwordpolicy

import (
	"bufio"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

//go:embed common-passwords.txt
var defaultBlacklist string

// DefaultBlacklist returns the embedded list of common passwords.
func DefaultBlacklist() []string {
	list, _ := ParseBlacklist(strings.NewReader(defaultBlacklist))
	return list
}

// ParseBlacklist reads one password per line. Blank lines are skipped and
// entries are trimmed and lowercased.
func ParseBlacklist(r io.Reader) ([]string, error) {
	var list []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if w := strings.ToLower(strings.TrimSpace(sc.Text())); w != "" {
			list = append(list, w)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	return list, nil
}

// LoadBlacklist reads the blacklist at path. An empty path or a missing file
// yields the embedded default list.
func LoadBlacklist(path string) ([]string, error) {
	if path == "" {
		return DefaultBlacklist(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultBlacklist(), nil
		}
		return nil, fmt.Errorf("open blacklist: %w", err)
	}
	defer f.Close()
	return ParseBlacklist(f)
}
