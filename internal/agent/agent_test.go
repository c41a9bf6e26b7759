package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/automount"
	"github.com/MacJediWizard/netdev-automount/internal/command/commandtest"
	"github.com/MacJediWizard/netdev-automount/internal/config"
	"github.com/MacJediWizard/netdev-automount/internal/invocation"
	"github.com/MacJediWizard/netdev-automount/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFstab = `# network shares
srv1:/export    /mnt/srv1  nfs   noauto,_netdev  0 0
host1:/data     /mnt/a     nfs4  noauto         0 0
//host2/share   /mnt/b     cifs  noauto         0 0
host2:/backup   /mnt/c     nfs   noauto         0 0
/dev/sda1       /boot      ext4  defaults       0 2
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testSettings(fstabPath, hostsPath string) *config.Settings {
	return &config.Settings{
		FstabPath:       fstabPath,
		HostsPath:       hostsPath,
		CommandTimeout:  5 * time.Second,
		DirectTries:     1,
		DispatcherTries: 5,
		Commands: config.CommandSettings{
			Resolver:   "getent",
			Pinger:     "ping",
			Mountpoint: "mountpoint",
			Mount:      "mount",
			Umount:     "umount",
		},
	}
}

func dispatcherContext(connection, event string) invocation.Context {
	return invocation.Context{
		Mode:         invocation.ModeDispatcher,
		ConnectionID: connection,
		Interface:    "eth0",
		Event:        event,
	}
}

func TestAgent_RunDirect(t *testing.T) {
	dir := t.TempDir()
	fstabPath := writeFile(t, dir, "fstab", "srv1:/export /mnt/srv1 nfs noauto 0 0\n/dev/sda1 /boot ext4 defaults 0 2\n")

	fake := commandtest.NewFake().
		On("mountpoint -q /mnt/srv1", commandtest.Exit(0)).
		On("getent ahosts srv1", commandtest.Output("192.0.2.10 STREAM srv1\n")).
		On("ping -c 1 -W 5 192.0.2.10", commandtest.Exit(1)).
		On("umount /mnt/srv1", commandtest.Exit(32)).
		On("umount -f /mnt/srv1", commandtest.Timeout()).
		On("umount -l -f /mnt/srv1", commandtest.Exit(0))

	var out bytes.Buffer
	a := New(testSettings(fstabPath, filepath.Join(dir, "hosts.toml")), fake, nil, &out, zerolog.Nop())

	outcomes, err := a.Run(context.Background(), invocation.Context{Mode: invocation.ModeDirect})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, automount.ActionMount, outcomes[0].Action)
	assert.Equal(t, automount.StatusAlreadyMounted, outcomes[0].Status)
	assert.Equal(t, automount.ActionUnmount, outcomes[1].Action)
	assert.Equal(t, automount.StatusUnmounted, outcomes[1].Status)

	assert.Equal(t,
		"/mnt/srv1 (srv1): already mounted\n"+
			"/mnt/srv1 (srv1): unmounted (lazy+forced)\n",
		out.String())
	assert.Zero(t, fake.Count("mount /mnt/srv1"))

	_, err = os.Stat(filepath.Join(dir, "hosts.toml"))
	assert.True(t, os.IsNotExist(err), "direct runs never touch the host config")
}

func TestAgent_RunDispatcherUp(t *testing.T) {
	dir := t.TempDir()
	fstabPath := writeFile(t, dir, "fstab", testFstab)
	hostsPath := writeFile(t, dir, "hosts.toml", "[\"Wired connection 1\"]\nhosts = [\"host1\"]\n")

	fake := commandtest.NewFake().
		On("mountpoint -q /mnt/a", commandtest.Exit(1)).
		On("getent ahosts host1", commandtest.Output("192.0.2.20 STREAM host1\n")).
		On("ping -c 1 -W 5 192.0.2.20", commandtest.Exit(0)).
		On("mount /mnt/a", commandtest.Exit(0))

	var out bytes.Buffer
	a := New(testSettings(fstabPath, hostsPath), fake, nil, &out, zerolog.Nop())

	outcomes, err := a.Run(context.Background(), dispatcherContext("Wired connection 1", "up"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, automount.StatusMounted, outcomes[0].Status)
	assert.Equal(t, "/mnt/a (host1): mounted\n", out.String())

	for _, line := range fake.Lines() {
		assert.NotContains(t, line, "/mnt/c", "entries of other hosts are never probed")
		assert.NotContains(t, line, "/mnt/srv1")
	}
}

func TestAgent_RunDispatcherDown(t *testing.T) {
	dir := t.TempDir()
	fstabPath := writeFile(t, dir, "fstab", testFstab)
	hostsPath := writeFile(t, dir, "hosts.toml", "[\"Wired connection 1\"]\nhosts = [\"host2\"]\n")

	fake := commandtest.NewFake().
		On("mountpoint -q /mnt/c", commandtest.Exit(0)).
		On("umount /mnt/c", commandtest.Exit(0))

	var out bytes.Buffer
	a := New(testSettings(fstabPath, hostsPath), fake, nil, &out, zerolog.Nop())

	outcomes, err := a.Run(context.Background(), dispatcherContext("Wired connection 1", "pre-down"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, automount.StatusUnmounted, outcomes[0].Status)
	assert.Zero(t, fake.Count("getent ahosts host2"), "down events never probe reachability")
}

func TestAgent_RunDispatcherNotConfigured(t *testing.T) {
	dir := t.TempDir()
	hostsPath := filepath.Join(dir, "etc", "nm-netdev-automount.toml")
	fake := commandtest.NewFake()

	var out bytes.Buffer
	a := New(testSettings(filepath.Join(dir, "missing-fstab"), hostsPath), fake, nil, &out, zerolog.Nop())

	outcomes, err := a.Run(context.Background(), dispatcherContext("Home WiFi", "up"))
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, fake.Calls())
	assert.Empty(t, out.String())

	data, err := os.ReadFile(hostsPath)
	require.NoError(t, err)
	assert.Equal(t, config.HostsTemplate, string(data))
}

func TestAgent_RunDispatcherIgnoredEvent(t *testing.T) {
	dir := t.TempDir()
	hostsPath := writeFile(t, dir, "hosts.toml", "[\"Home\"]\nhosts = [\"host1\"]\n")
	fake := commandtest.NewFake()

	a := New(testSettings(filepath.Join(dir, "missing-fstab"), hostsPath), fake, nil, &bytes.Buffer{}, zerolog.Nop())

	outcomes, err := a.Run(context.Background(), dispatcherContext("Home", "connectivity-change"))
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, fake.Calls())
}

func TestAgent_RunErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing mount table", func(t *testing.T) {
		a := New(testSettings(filepath.Join(dir, "missing-fstab"), ""), commandtest.NewFake(), nil, &bytes.Buffer{}, zerolog.Nop())
		_, err := a.Run(context.Background(), invocation.Context{Mode: invocation.ModeDirect})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed host config", func(t *testing.T) {
		hostsPath := writeFile(t, dir, "bad.toml", "[Home\nhosts = ")
		a := New(testSettings(writeFile(t, dir, "fstab", testFstab), hostsPath), commandtest.NewFake(), nil, &bytes.Buffer{}, zerolog.Nop())
		_, err := a.Run(context.Background(), dispatcherContext("Home", "up"))
		assert.ErrorIs(t, err, config.ErrInvalidHosts)
	})

	t.Run("canceled before the first pass", func(t *testing.T) {
		fake := commandtest.NewFake()
		a := New(testSettings(writeFile(t, dir, "fstab", testFstab), ""), fake, nil, &bytes.Buffer{}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		outcomes, err := a.Run(ctx, invocation.Context{Mode: invocation.ModeDirect})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, outcomes)
		assert.Empty(t, fake.Calls())
	})
}

func TestAgent_DryRun(t *testing.T) {
	dir := t.TempDir()
	fstabPath := writeFile(t, dir, "fstab", "host1:/data /mnt/a nfs4 noauto 0 0\n")

	fake := commandtest.NewFake().
		On("mountpoint -q /mnt/a", commandtest.Exit(1)).
		On("getent ahosts host1", commandtest.Output("192.0.2.20 STREAM host1\n")).
		On("ping -c 1 -W 5 192.0.2.20", commandtest.Exit(0))

	s := testSettings(fstabPath, "")
	s.DryRun = true

	var out bytes.Buffer
	outcomes, err := New(s, fake, nil, &out, zerolog.Nop()).Run(context.Background(), invocation.Context{Mode: invocation.ModeDirect})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, automount.StatusWouldMount, outcomes[0].Status)
	assert.Equal(t, automount.StatusAlreadyUnmounted, outcomes[1].Status)
	assert.Zero(t, fake.Count("mount /mnt/a"))
	assert.Contains(t, out.String(), "/mnt/a (host1): would mount")
}

func TestAgent_WritesMetrics(t *testing.T) {
	dir := t.TempDir()
	fstabPath := writeFile(t, dir, "fstab", "host1:/data /mnt/a nfs4 noauto 0 0\n")
	metricsPath := filepath.Join(dir, "netdev_automount.prom")

	fake := commandtest.NewFake().
		On("mountpoint -q /mnt/a", commandtest.Exit(0))

	rec, err := metrics.NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	s := testSettings(fstabPath, "")
	s.MetricsFile = metricsPath

	_, err = New(s, fake, rec, &bytes.Buffer{}, zerolog.Nop()).Run(context.Background(), invocation.Context{Mode: invocation.ModeDirect})
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `netdev_automount_outcomes_total{action="mount",status="already mounted"} 1`)
}

func TestNewProber(t *testing.T) {
	s := testSettings("", "")
	s.Commands.Resolver = "/usr/bin/getent"
	s.Commands.Pinger = "/bin/ping"
	s.Commands.Mountpoint = "/bin/mountpoint"
	s.CommandTimeout = 2 * time.Second

	fake := commandtest.NewFake().
		On("/bin/mountpoint -q /mnt/a", commandtest.Exit(0)).
		On("/usr/bin/getent ahosts host1", commandtest.Output("192.0.2.20 STREAM host1\n")).
		On("/bin/ping -c 1 -W 2 192.0.2.20", commandtest.Exit(0))

	p := NewProber(s, fake, zerolog.Nop())
	ctx := context.Background()
	assert.True(t, p.Mounted(ctx, "/mnt/a"))
	assert.True(t, p.Reachable(ctx, "host1", 1))

	for _, c := range fake.Calls() {
		assert.Equal(t, 2*time.Second, c.Timeout, c.Line())
	}
}
