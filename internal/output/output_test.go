package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mounts []struct {
	Host       string `json:"host" yaml:"host"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
}

func (m mounts) Headers() []string { return []string{"Host", "Mountpoint"} }

func (m mounts) Rows() [][]string {
	rows := make([][]string, len(m))
	for i, r := range m {
		rows[i] = []string{r.Host, r.Mountpoint}
	}
	return rows
}

var sample = mounts{
	{Host: "srv1", Mountpoint: "/mnt/srv1"},
	{Host: "nas", Mountpoint: "/mnt/media"},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrint(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatTable, sample))
		out := buf.String()
		assert.Contains(t, out, "HOST")
		assert.Contains(t, out, "MOUNTPOINT")
		assert.Contains(t, out, "/mnt/media")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatJSON, sample))
		assert.JSONEq(t, `[{"host":"srv1","mountpoint":"/mnt/srv1"},{"host":"nas","mountpoint":"/mnt/media"}]`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatYAML, sample))
		assert.YAMLEq(t, "- host: srv1\n  mountpoint: /mnt/srv1\n- host: nas\n  mountpoint: /mnt/media\n", buf.String())
	})

	t.Run("table needs rows", func(t *testing.T) {
		assert.Error(t, Print(&bytes.Buffer{}, FormatTable, map[string]string{"a": "b"}))
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, Print(&bytes.Buffer{}, Format("xml"), sample))
	})
}
