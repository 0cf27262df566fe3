package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestMultiFlagSet(t *testing.T) {
	for _, tc := range []struct {
		name   string
		args   string
		values string
	}{
		{
			name:   "single value",
			args:   "/api",
			values: "/api",
		},
		{
			name:   "path with space",
			args:   "/my files",
			values: "/my files",
		},
	} {
		t.Run(tc.name+"_valid", func(t *testing.T) {
			multiFlag := &multiFlag{}
			err := multiFlag.Set(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.values, multiFlag.String())
		})
	}
}

func TestMultiFlagRepeated(t *testing.T) {
	m := &multiFlag{}
	for _, p := range []string{"/api", "/static", "/img"} {
		require.NoError(t, m.Set(p))
	}

	assert.Equal(t, multiFlag{"/api", "/static", "/img"}, *m)
	assert.Equal(t, "/api /static /img", m.String())
}

func TestMultiFlagYaml(t *testing.T) {
	m := &multiFlag{"/old"}
	err := yaml.Unmarshal([]byte("- /api\n- /img"), m)
	require.NoError(t, err)
	assert.Equal(t, multiFlag{"/api", "/img"}, *m)
}

func TestMultiFlagYamlErr(t *testing.T) {
	m := &multiFlag{}
	err := yaml.Unmarshal([]byte(`-foo=bar`), m)
	require.Error(t, err, "Failed to get error on wrong yaml input")
}
