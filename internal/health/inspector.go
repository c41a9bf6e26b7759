// Package health reports the live state of the network entries in the
// mount table without touching the shares themselves.
package health

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// State summarizes one entry.
type State string

const (
	// StateMounted means the share is mounted and its host answered, or
	// reachability was not checked.
	StateMounted State = "mounted"
	// StateUnmounted means the share is not mounted and its host did not
	// answer, or reachability was not checked.
	StateUnmounted State = "unmounted"
	// StateStale means the share is mounted but its host did not answer.
	// The next unmount pass would remove it.
	StateStale State = "stale"
	// StatePending means the share is not mounted but its host answered.
	// The next mount pass would mount it.
	StatePending State = "pending"
)

// EntryStatus is the live view of one mount table entry.
type EntryStatus struct {
	Host       string `json:"host" yaml:"host"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
	Mounted    bool   `json:"mounted" yaml:"mounted"`
	Device     string `json:"device,omitempty" yaml:"device,omitempty"`
	Fstype     string `json:"fstype,omitempty" yaml:"fstype,omitempty"`
	// Reachable is nil when reachability was not probed.
	Reachable *bool `json:"reachable,omitempty" yaml:"reachable,omitempty"`
	State     State `json:"state" yaml:"state"`
}

// ReachFunc answers whether host is reachable.
type ReachFunc func(ctx context.Context, host string) bool

// PartitionLister returns the kernel mount table. all includes pseudo and
// network filesystems.
type PartitionLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// Inspector reads the kernel mount table.
type Inspector struct {
	partitions PartitionLister
	logger     zerolog.Logger
}

// NewInspector creates an Inspector backed by gopsutil.
func NewInspector(logger zerolog.Logger) *Inspector {
	return NewInspectorWithLister(disk.PartitionsWithContext, logger)
}

// NewInspectorWithLister creates an Inspector with a custom mount table source.
func NewInspectorWithLister(partitions PartitionLister, logger zerolog.Logger) *Inspector {
	return &Inspector{
		partitions: partitions,
		logger:     logger.With().Str("component", "health").Logger(),
	}
}

// LiveMounts returns the current mounts keyed by mountpoint. When a
// mountpoint is stacked, the last mount wins.
func (i *Inspector) LiveMounts(ctx context.Context) (map[string]disk.PartitionStat, error) {
	parts, err := i.partitions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list mounts: %w", err)
	}

	mounts := make(map[string]disk.PartitionStat, len(parts))
	for _, p := range parts {
		mounts[fstab.Unescape(p.Mountpoint)] = p
	}
	return mounts, nil
}

// Snapshot reports every entry's mount state. If reach is non-nil, each
// distinct host is probed once.
func (i *Inspector) Snapshot(ctx context.Context, entries []fstab.Entry, reach ReachFunc) ([]EntryStatus, error) {
	mounts, err := i.LiveMounts(ctx)
	if err != nil {
		return nil, err
	}

	var reachable map[string]bool
	if reach != nil {
		reachable = make(map[string]bool)
		for _, host := range fstab.Hosts(entries) {
			reachable[host] = reach(ctx, host)
			i.logger.Debug().Str("host", host).Bool("reachable", reachable[host]).Msg("probed host")
		}
	}

	statuses := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		s := EntryStatus{Host: e.Host, Mountpoint: e.Mountpoint}
		if p, ok := mounts[e.Mountpoint]; ok {
			s.Mounted = true
			s.Device = p.Device
			s.Fstype = p.Fstype
		}
		if reachable != nil {
			r := reachable[e.Host]
			s.Reachable = &r
		}
		s.State = evaluate(s)
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func evaluate(s EntryStatus) State {
	switch {
	case s.Mounted && s.Reachable != nil && !*s.Reachable:
		return StateStale
	case s.Mounted:
		return StateMounted
	case s.Reachable != nil && *s.Reachable:
		return StatePending
	default:
		return StateUnmounted
	}
}

// Summary counts entries per state.
func Summary(statuses []EntryStatus) map[State]int {
	counts := make(map[State]int)
	for _, s := range statuses {
		counts[s.State]++
	}
	return counts
}
