package cube

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clinicalYAML = `
name: Clinical
fact_table: visits
dimensions:
  - name: Subject
    levels:
      - name: Subject
        column: subject_id
  - name: Site
    levels:
      - name: Country
        table: sites
        column: country
        foreign_key: site_id
        primary_key: id
      - name: Site
        table: sites
        column: name
        foreign_key: site_id
        primary_key: id
    members:
      - name: US
        children:
          - name: Boston
          - name: Denver
      - name: UK
        children:
          - name: London
measures:
  - name: SubjectCount
    level: "[Subject].[Subject]"
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(clinicalYAML))
	require.NoError(t, err)
	assert.Equal(t, "Clinical", def.Name)
	assert.Equal(t, "visits", def.FactTable)
	assert.False(t, def.HasExplicitMembers())

	levels := def.Levels()
	require.Contains(t, levels, "[Site].[Country]")
	assert.Equal(t, "sites", levels["[Site].[Country]"].Table)
	assert.Equal(t, "subject_id", levels["[Subject].[Subject]"].Column)
}

func TestParseDefinition_UnknownField(t *testing.T) {
	_, err := ParseDefinition([]byte("name: x\nbogus: 1\n"))
	require.Error(t, err)
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "dimensions: [{name: a, levels: [{name: l}]}]", "name is required"},
		{"no dimensions", "name: c", "at least one dimension"},
		{"no levels", "name: c\ndimensions: [{name: a}]", "has no levels"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDefinitionCompile(t *testing.T) {
	def, err := ParseDefinition([]byte(clinicalYAML))
	require.NoError(t, err)

	b, err := def.Compile()
	require.NoError(t, err)

	subj, ok := b.Level("[Subject].[Subject]")
	require.True(t, ok)
	b.AddMember(subj, nil, "S1")

	c, err := b.Build()
	require.NoError(t, err)

	london, ok := c.LookupMember("[Site].[Site].[London]")
	require.True(t, ok)
	assert.Equal(t, "UK", london.Parent().Name)

	m, ok := c.DefaultMeasure()
	require.True(t, ok)
	assert.Same(t, subj, m.Level)
}

func TestDefinitionCompile_UnknownMeasureLevel(t *testing.T) {
	def := &Definition{
		Name:       "c",
		Dimensions: []DimensionDefinition{{Name: "A", Levels: []LevelDefinition{{Name: "A"}}}},
		Measures:   []MeasureDefinition{{Name: "ACount", Level: "[B].[B]"}},
	}
	_, err := def.Compile()
	require.Error(t, err)
}

func TestLoadDefinitionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.yaml")
	require.NoError(t, os.WriteFile(path, []byte(clinicalYAML), 0o600))

	def, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	assert.Len(t, def.Dimensions, 2)

	_, err = LoadDefinitionFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefinitionCompile_SparseOrdinal(t *testing.T) {
	def, err := ParseDefinition([]byte(`
name: c
fact_table: facts
dimensions:
  - name: Cohort
    levels:
      - name: Cohort
        column: cohort
    members:
      - name: A
        ordinal: 50000000
      - name: B
measures:
  - name: CohortCount
    level: "[Cohort].[Cohort]"
`))
	require.NoError(t, err)
	b, err := def.Compile()
	require.NoError(t, err)
	_, err = b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[Cohort].[Cohort]")
}
