package health

import (
	"context"
	"errors"
	"testing"

	"github.com/MacJediWizard/netdev-automount/internal/fstab"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticMounts(parts ...disk.PartitionStat) PartitionLister {
	return func(context.Context, bool) ([]disk.PartitionStat, error) {
		return parts, nil
	}
}

var entries = []fstab.Entry{
	{Host: "srv1", Mountpoint: "/mnt/srv1"},
	{Host: "srv2", Mountpoint: "/mnt/srv2"},
	{Host: "srv1", Mountpoint: "/mnt/my share"},
}

func TestInspector_LiveMounts(t *testing.T) {
	i := NewInspectorWithLister(staticMounts(
		disk.PartitionStat{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
		disk.PartitionStat{Device: "srv1:/export", Mountpoint: `/mnt/my\040share`, Fstype: "nfs4"},
	), zerolog.Nop())

	mounts, err := i.LiveMounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, mounts, 2)
	assert.Equal(t, "nfs4", mounts["/mnt/my share"].Fstype)
}

func TestInspector_LiveMountsError(t *testing.T) {
	i := NewInspectorWithLister(func(context.Context, bool) ([]disk.PartitionStat, error) {
		return nil, errors.New("permission denied")
	}, zerolog.Nop())

	_, err := i.LiveMounts(context.Background())
	assert.ErrorContains(t, err, "permission denied")

	_, err = i.Snapshot(context.Background(), entries, nil)
	assert.Error(t, err)
}

func TestInspector_Snapshot(t *testing.T) {
	lister := staticMounts(
		disk.PartitionStat{Device: "srv1:/export", Mountpoint: "/mnt/srv1", Fstype: "nfs4"},
		disk.PartitionStat{Device: "//srv2/share", Mountpoint: "/mnt/srv2", Fstype: "cifs"},
	)

	t.Run("without probing", func(t *testing.T) {
		i := NewInspectorWithLister(lister, zerolog.Nop())
		statuses, err := i.Snapshot(context.Background(), entries, nil)
		require.NoError(t, err)
		require.Len(t, statuses, 3)

		assert.Equal(t, EntryStatus{
			Host: "srv1", Mountpoint: "/mnt/srv1", Mounted: true,
			Device: "srv1:/export", Fstype: "nfs4", State: StateMounted,
		}, statuses[0])
		assert.Nil(t, statuses[1].Reachable)
		assert.Equal(t, StateUnmounted, statuses[2].State)
	})

	t.Run("with probing", func(t *testing.T) {
		probed := map[string]int{}
		reach := func(_ context.Context, host string) bool {
			probed[host]++
			return host == "srv1"
		}

		i := NewInspectorWithLister(lister, zerolog.Nop())
		statuses, err := i.Snapshot(context.Background(), entries, reach)
		require.NoError(t, err)
		require.Len(t, statuses, 3)

		assert.Equal(t, StateMounted, statuses[0].State)
		assert.Equal(t, StateStale, statuses[1].State)
		assert.Equal(t, StatePending, statuses[2].State)
		require.NotNil(t, statuses[2].Reachable)
		assert.True(t, *statuses[2].Reachable)
		assert.Equal(t, map[string]int{"srv1": 1, "srv2": 1}, probed, "each host probed once")

		assert.Equal(t, map[State]int{StateMounted: 1, StateStale: 1, StatePending: 1}, Summary(statuses))
	})
}
