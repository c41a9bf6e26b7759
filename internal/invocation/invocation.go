// Package invocation works out how the process was started and turns that
// into the reconciliation passes to run.
package invocation

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/MacJediWizard/netdev-automount/internal/automount"
	"github.com/MacJediWizard/netdev-automount/internal/config"
	"github.com/google/uuid"
)

// Environment variables set by NetworkManager for dispatcher scripts.
const (
	EnvConnectionUUID = "CONNECTION_UUID"
	EnvConnectionID   = "CONNECTION_ID"
)

// ErrNotConfigured is returned by Plan when the triggering connection has no
// hosts configured. It is not a failure.
var ErrNotConfigured = errors.New("connection not configured")

// Mode is how the process was started.
type Mode int

const (
	// ModeDirect is a one-shot run by an administrator, timer or the watch loop.
	ModeDirect Mode = iota
	// ModeDispatcher is a NetworkManager dispatcher callback.
	ModeDispatcher
)

func (m Mode) String() string {
	if m == ModeDispatcher {
		return "dispatcher"
	}
	return "direct"
}

// EventClass groups dispatcher events by the pass they trigger.
type EventClass int

const (
	EventOther EventClass = iota
	EventUp
	EventDown
)

// ClassifyEvent maps a dispatcher event keyword to its class.
func ClassifyEvent(event string) EventClass {
	switch event {
	case "up", "vpn-up":
		return EventUp
	case "down", "pre-down", "vpn-down", "vpn-pre-down":
		return EventDown
	default:
		return EventOther
	}
}

// Context describes one invocation. It is resolved once at startup.
type Context struct {
	Mode       Mode
	Executable string

	// Dispatcher mode only.
	ConnectionUUID string
	ConnectionID   string
	Interface      string
	Event          string
}

// Resolve builds the invocation context. executable is the path the
// process was started as, args are the positional arguments after it.
// The process is in dispatcher mode when executable lies inside
// dispatcherDir or one of its subdirectories (pre-up.d, pre-down.d,
// no-wait.d).
func Resolve(executable, dispatcherDir string, getenv func(string) string, args []string) Context {
	c := Context{Mode: ModeDirect, Executable: executable}
	if !within(executable, dispatcherDir) {
		return c
	}

	c.Mode = ModeDispatcher
	c.ConnectionUUID = strings.TrimSpace(getenv(EnvConnectionUUID))
	c.ConnectionID = strings.TrimSpace(getenv(EnvConnectionID))
	if len(args) > 0 {
		c.Interface = args[0]
	}
	if len(args) > 1 {
		c.Event = args[1]
	}
	return c
}

// ExecutablePath returns the path the process was started as. A bare
// command name was found through PATH, so it is looked up the same way.
// Symlinks are kept: a dispatcher script is usually a link to the
// installed binary.
func ExecutablePath(arg0 string) string {
	if !strings.ContainsRune(arg0, filepath.Separator) {
		if p, err := exec.LookPath(arg0); err == nil {
			return p
		}
	}
	return arg0
}

func within(path, dir string) bool {
	if path == "" || dir == "" {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Identifiers returns the keys to look the connection up by, UUID first.
// A malformed UUID is ignored.
func (c Context) Identifiers() []string {
	var ids []string
	if c.ConnectionUUID != "" {
		if _, err := uuid.Parse(c.ConnectionUUID); err == nil {
			ids = append(ids, c.ConnectionUUID)
		}
	}
	if c.ConnectionID != "" {
		ids = append(ids, c.ConnectionID)
	}
	return ids
}

// Tries holds the reachability attempt counts per mode.
type Tries struct {
	Direct     int
	Dispatcher int
}

// Plan returns the passes to run, in order.
//
// A direct run mounts and then unmounts every entry, each gated by
// tries.Direct reachability attempts. A dispatcher run acts only on the
// hosts configured for the triggering connection: up events mount with
// tries.Dispatcher attempts, down events unmount without probing, other
// events do nothing. The connection lookup happens before the event is
// examined, so an unconfigured connection always yields ErrNotConfigured.
func Plan(c Context, hosts config.Hosts, tries Tries) ([]automount.Policy, error) {
	if c.Mode == ModeDirect {
		return []automount.Policy{
			{Action: automount.ActionMount, Tries: tries.Direct},
			{Action: automount.ActionUnmount, Tries: tries.Direct},
		}, nil
	}

	ids := c.Identifiers()
	key, list, ok := hosts.Lookup(ids...)
	if !ok {
		return nil, fmt.Errorf("%w: no section for %s", ErrNotConfigured, describe(ids))
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: section %q has no hosts", ErrNotConfigured, key)
	}

	filter := automount.NewHostFilter(list...)
	switch ClassifyEvent(c.Event) {
	case EventUp:
		return []automount.Policy{
			{Action: automount.ActionMount, Tries: tries.Dispatcher, Hosts: filter},
		}, nil
	case EventDown:
		return []automount.Policy{
			{Action: automount.ActionUnmount, Tries: 0, Hosts: filter},
		}, nil
	default:
		return nil, nil
	}
}

func describe(ids []string) string {
	if len(ids) == 0 {
		return "unidentified connection"
	}
	return strings.Join(ids, " or ")
}
