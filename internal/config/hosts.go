// Package config provides configuration management for netdev-automount.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultHostsPath is the connection-to-hosts mapping file.
const DefaultHostsPath = "/etc/nm-netdev-automount.toml"

// ErrInvalidHosts is returned when the hosts document cannot be decoded.
var ErrInvalidHosts = errors.New("invalid hosts document")

// HostsTemplate is written when the hosts file does not exist. It contains
// no active sections, so nothing is reconciled until an administrator adds
// one.
const HostsTemplate = `# netdev-automount: network shares to reconcile per NetworkManager connection.
#
# Each section is keyed by a connection UUID (preferred) or a connection name,
# as shown by "nmcli connection show". The hosts list names the servers whose
# /etc/fstab entries are mounted when the connection comes up and unmounted
# before it goes down. Connections without a section are ignored.
#
# ["0b6d5bd1-6a4c-4c55-9a4f-7a0a3f5e0c11"]
# hosts = ["nas.example.lan", "192.0.2.10"]
#
# ["Home WiFi"]
# hosts = ["fileserver"]
`

// Hosts maps a connection identifier (UUID or name) to the hosts allowed
// for that connection.
type Hosts map[string][]string

type hostsSection struct {
	Hosts []string `toml:"hosts"`
}

// ParseHosts decodes a hosts document. Keys keep their case and may contain
// dots or spaces when quoted.
func ParseHosts(data []byte) (Hosts, error) {
	var doc map[string]hostsSection
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHosts, err)
	}

	hosts := make(Hosts, len(doc))
	for key, section := range doc {
		var list []string
		for _, h := range section.Hosts {
			if h = strings.TrimSpace(h); h != "" {
				list = append(list, h)
			}
		}
		hosts[key] = list
	}
	return hosts, nil
}

// LoadHosts reads the hosts document at path.
// If the file does not exist, an empty mapping is returned.
func LoadHosts(path string) (Hosts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Hosts{}, nil
		}
		return nil, fmt.Errorf("read hosts file: %w", err)
	}

	hosts, err := ParseHosts(data)
	if err != nil {
		return nil, fmt.Errorf("parse hosts file %s: %w", path, err)
	}
	return hosts, nil
}

// Lookup returns the hosts of the first key present in the mapping, along
// with the key that matched. Empty keys are ignored.
func (h Hosts) Lookup(keys ...string) (string, []string, bool) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if list, ok := h[key]; ok {
			return key, list, true
		}
	}
	return "", nil, false
}

// EnsureExists writes template to path unless a file is already there,
// creating parent directories as needed. It reports whether the file was
// created. Existing files are never modified.
func EnsureExists(path, template string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create hosts file: %w", err)
	}

	if _, err := f.WriteString(template); err != nil {
		f.Close()
		return true, fmt.Errorf("write hosts file: %w", err)
	}
	if err := f.Close(); err != nil {
		return true, fmt.Errorf("close hosts file: %w", err)
	}
	return true, nil
}
