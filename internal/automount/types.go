// Package automount decides and performs mount and unmount actions for
// network shares declared in the mount table.
package automount

import (
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/fstab"
)

// Action is the direction of a reconciliation pass.
type Action string

const (
	// ActionMount mounts entries whose host is reachable.
	ActionMount Action = "mount"
	// ActionUnmount unmounts entries whose host is unreachable.
	ActionUnmount Action = "unmount"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionMount || a == ActionUnmount
}

// HostFilter is an allow-list of hosts. A nil filter allows every host.
type HostFilter map[string]struct{}

// NewHostFilter builds a filter allowing exactly hosts.
func NewHostFilter(hosts ...string) HostFilter {
	f := make(HostFilter, len(hosts))
	for _, h := range hosts {
		f[h] = struct{}{}
	}
	return f
}

// Allows reports whether host passes the filter.
func (f HostFilter) Allows(host string) bool {
	if f == nil {
		return true
	}
	_, ok := f[host]
	return ok
}

// Policy selects what one reconciliation pass does.
type Policy struct {
	Action Action
	// Tries is the number of reachability attempts per entry. Zero or
	// less disables the reachability gate entirely.
	Tries int
	// Hosts restricts the pass to these hosts. Nil means every entry.
	Hosts HostFilter
}

// ChecksReachability reports whether the pass gates on reachability.
func (p Policy) ChecksReachability() bool {
	return p.Tries > 0
}

// Status is the human-readable result of one entry in a pass.
type Status string

const (
	StatusAlreadyMounted   Status = "already mounted"
	StatusUnreachable      Status = "unreachable, not mounting"
	StatusMounted          Status = "mounted"
	StatusMountFailed      Status = "mount failed"
	StatusMountTimedOut    Status = "mount timed out"
	StatusAlreadyUnmounted Status = "already unmounted"
	StatusReachable        Status = "reachable, not unmounting"
	StatusUnmounted        Status = "unmounted"
	StatusUnmountFailed    Status = "unmount failed"
	StatusWouldMount       Status = "would mount"
	StatusWouldUnmount     Status = "would unmount"
	StatusError            Status = "error"
)

// Level is one step of the unmount escalation.
type Level int

const (
	LevelPlain Level = iota
	LevelForced
	LevelLazyForced
)

// Levels lists the escalation in the order it is attempted.
var Levels = []Level{LevelPlain, LevelForced, LevelLazyForced}

func (l Level) String() string {
	switch l {
	case LevelPlain:
		return "plain"
	case LevelForced:
		return "forced"
	case LevelLazyForced:
		return "lazy+forced"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// flags returns the umount flags for the level.
func (l Level) flags() []string {
	switch l {
	case LevelForced:
		return []string{"-f"}
	case LevelLazyForced:
		return []string{"-l", "-f"}
	default:
		return nil
	}
}

// Attempt records one command issued for an entry.
type Attempt struct {
	Level    Level
	ExitCode int
	TimedOut bool
	Err      error
}

// Succeeded reports whether the attempt's command exited 0.
func (a Attempt) Succeeded() bool {
	return a.Err == nil && !a.TimedOut && a.ExitCode == 0
}

func (a Attempt) reason() string {
	switch {
	case a.Err != nil:
		return a.Err.Error()
	case a.TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("exit %d", a.ExitCode)
	}
}

// Outcome is the reported result of one entry in a pass.
type Outcome struct {
	Entry    fstab.Entry
	Action   Action
	Status   Status
	Attempts []Attempt
	Err      error
	Duration time.Duration
}

// Changed reports whether the entry's mount state was changed.
func (o Outcome) Changed() bool {
	return o.Status == StatusMounted || o.Status == StatusUnmounted
}

// Failed reports whether the pass tried and failed to act on the entry.
func (o Outcome) Failed() bool {
	switch o.Status {
	case StatusMountFailed, StatusMountTimedOut, StatusUnmountFailed, StatusError:
		return true
	}
	return false
}

// Succeeded returns the escalation level that unmounted the entry.
func (o Outcome) Succeeded() (Level, bool) {
	for _, a := range o.Attempts {
		if a.Succeeded() {
			return a.Level, true
		}
	}
	return 0, false
}

// String renders the outcome as a status line.
func (o Outcome) String() string {
	line := o.Entry.String() + ": " + string(o.Status)

	switch o.Status {
	case StatusUnmounted:
		if level, ok := o.Succeeded(); ok {
			line += " (" + level.String() + ")"
		}
	case StatusUnmountFailed:
		parts := make([]string, len(o.Attempts))
		for i, a := range o.Attempts {
			parts[i] = a.Level.String() + ": " + a.reason()
		}
		line += " (" + strings.Join(parts, ", ") + ")"
	case StatusMountFailed:
		if len(o.Attempts) > 0 {
			line += " (" + o.Attempts[0].reason() + ")"
		}
	case StatusError:
		if o.Err != nil {
			line += ": " + o.Err.Error()
		}
	}
	return line
}
