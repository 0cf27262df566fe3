package config

import (
	"testing"

	"gopkg.in/yaml.v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/dup/processor"
)

func TestYamlFlag(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		f := newYamlFlag(&cfg.Field)
		v := `[{path: /api, payload: true, substitutions: [{scope: header, field: token, pattern: ".+", replacement: X}]}, {path: /img}]`
		err := f.Set(v)

		require.NoError(t, err)
		require.Len(t, *cfg.Field, 2)
		assert.Equal(t, LocationConfig{
			Path:    "/api",
			Payload: true,
			Substitutions: []RuleConfig{{
				Scope:       processor.Header,
				Field:       "token",
				Pattern:     ".+",
				Replacement: "X",
			}},
		}, (*cfg.Field)[0])
		assert.Equal(t, LocationConfig{Path: "/img"}, (*cfg.Field)[1])

		assert.Equal(t, v, f.String())
	})

	t.Run("set empty", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		f := newYamlFlag(&cfg.Field)
		err := f.Set("")

		require.NoError(t, err)
		assert.Equal(t, new(Locations), cfg.Field)
		assert.Equal(t, "", f.String())
	})

	t.Run("set invalid yaml", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		f := newYamlFlag(&cfg.Field)
		err := f.Set(`This is not a valid YAML`)

		assert.Error(t, err)
	})

	t.Run("set invalid scope", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		f := newYamlFlag(&cfg.Field)
		err := f.Set(`[{path: /api, raw-filters: [{scope: cookie, pattern: x}]}]`)

		assert.ErrorIs(t, err, processor.ErrInvalidScope)
	})

	t.Run("unmarshal YAML", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		err := yaml.Unmarshal([]byte(`
field:
  - path: /api
    raw-filters:
      - scope: all
        pattern: "id=[0-9]+"
`), &cfg)

		require.NoError(t, err)
		require.Len(t, *cfg.Field, 1)
		assert.Equal(t, "/api", (*cfg.Field)[0].Path)
		assert.Equal(t, []RuleConfig{{Scope: processor.All, Pattern: "id=[0-9]+"}}, (*cfg.Field)[0].RawFilters)
	})

	t.Run("unmarshal invalid YAML", func(t *testing.T) {
		cfg := struct {
			Field *Locations
		}{}

		err := yaml.Unmarshal([]byte(`This is not a valid YAML`), &cfg)

		assert.Error(t, err)
	})
}
