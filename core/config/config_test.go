package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsSetByName(t *testing.T) {
	o := Default()

	require.NoError(t, o.SetByName("errexit", true))
	require.NoError(t, o.SetByName("pipefail", true))
	assert.True(t, o.ErrExit)
	assert.True(t, o.PipeFail)

	require.NoError(t, o.SetByName("errexit", false))
	assert.False(t, o.ErrExit)

	assert.Error(t, o.SetByName("bogus", true))
}

func TestOptionsFlags(t *testing.T) {
	o := Default()
	assert.Equal(t, "", o.Flags())

	require.NoError(t, o.SetByFlag('e', true))
	require.NoError(t, o.SetByFlag('u', true))
	assert.Equal(t, "eu", o.Flags())
}

func TestLoadProfile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "profile.yaml", []byte(`
options:
  - errexit
  - pipefail
ifs: ":"
vars:
  GREETING: hello
`), 0644))

	p, err := LoadProfile(fs, "profile.yaml")
	require.NoError(t, err)

	o := Default()
	require.NoError(t, p.Apply(&o))
	assert.True(t, o.ErrExit)
	assert.True(t, o.PipeFail)
	require.NotNil(t, p.IFS)
	assert.Equal(t, ":", *p.IFS)
	assert.Equal(t, "hello", p.Vars["GREETING"])
}

func TestLoadProfileRejectsUnknownOption(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "profile.yaml", []byte("options: [warp-speed]\n"), 0644))

	_, err := LoadProfile(fs, "profile.yaml")
	assert.ErrorContains(t, err, "warp-speed")
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(afero.NewMemMapFs(), "nope.yaml")
	assert.Error(t, err)
}
