package adiosxml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heatXML = `<?xml version="1.0"?>
<adios-config host-language="Fortran">
  <adios-group name="heat">
    <var name="gndx" type="integer"/>
    <global-bounds dimensions="gndx,gndy" offsets="offx,offy">
      <var name="T" gwrite="T(1:ndx,1:ndy,1)" type="double" dimensions="ndx,ndy"/>
      <var name="dT" type="double" dimensions="ndx,ndy"/>
    </global-bounds>
  </adios-group>
</adios-config>
`

func writeXML(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heat_transfer.xml")
	require.NoError(t, os.WriteFile(path, []byte(heatXML), 0644))
	return path
}

func TestApply_SetsTransform(t *testing.T) {
	path := writeXML(t)

	require.NoError(t, New().Apply(path, "heat", "T", "sz:accuracy=0.001"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `transform="sz:accuracy=0.001"`)
	assert.Contains(t, string(b), `<var name="dT" type="double" dimensions="ndx,ndy"/>`)
}

func TestApply_DirectGroupVariable(t *testing.T) {
	path := writeXML(t)
	require.NoError(t, New().Apply(path, "heat", "gndx", "zfp"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `transform="zfp"`)
}

func TestApply_MissingVariable(t *testing.T) {
	path := writeXML(t)

	err := New().Apply(path, "heat", "missing", "sz")
	require.ErrorIs(t, err, ErrVariableNotFound)

	err = New().Apply(path, "other", "T", "sz")
	require.ErrorIs(t, err, ErrVariableNotFound)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, heatXML, string(b))
}

func TestApply_MissingFile(t *testing.T) {
	err := New().Apply(filepath.Join(t.TempDir(), "nope.xml"), "heat", "T", "sz")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVariableNotFound)
}
