// Package fstab reads network share entries from the system mount table.
package fstab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultPath is the system mount table.
const DefaultPath = "/etc/fstab"

// minFields is the field count of a complete fstab line:
// source, mountpoint, type, options, dump, pass.
const minFields = 6

// Entry is a network share declared in the mount table.
type Entry struct {
	Host       string `json:"host" yaml:"host"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
}

// String returns the entry as "mountpoint (host)".
func (e Entry) String() string {
	return e.Mountpoint + " (" + e.Host + ")"
}

// Load reads the mount table at path.
func Load(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mount table: %w", err)
	}
	defer file.Close()

	entries, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("read mount table %s: %w", path, err)
	}
	return entries, nil
}

// Parse extracts network share entries from mount table content.
// Comment lines and lines that are not host:path sources with a full
// set of fields are skipped without error.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < minFields {
			continue
		}

		host, _, ok := strings.Cut(fields[0], ":")
		if !ok || host == "" {
			continue
		}

		entries = append(entries, Entry{
			Host:       host,
			Mountpoint: Unescape(fields[1]),
		})
	}

	return entries, scanner.Err()
}

// Filter returns the entries for which keep returns true, preserving order.
func Filter(entries []Entry, keep func(Entry) bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Hosts returns the distinct hosts of entries in first-seen order.
func Hosts(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var hosts []string
	for _, e := range entries {
		if _, ok := seen[e.Host]; ok {
			continue
		}
		seen[e.Host] = struct{}{}
		hosts = append(hosts, e.Host)
	}
	return hosts
}

// Unescape decodes the octal escapes (\040 for space, \011 for tab) that
// fstab and the kernel mount table use for whitespace inside a field.
func Unescape(field string) string {
	if !strings.Contains(field, `\`) {
		return field
	}

	var b strings.Builder
	for i := 0; i < len(field); i++ {
		if field[i] == '\\' && i+4 <= len(field) {
			if v, err := strconv.ParseUint(field[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(field[i])
	}
	return b.String()
}
