package testutil

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/stretchr/testify/require"

	"duck-cube/internal/cube"
)

// ClinicalYAML is the cube definition shared by engine tests. Four visits:
//
//	subject cohort site    country study
//	S1      A      Boston  US      Alpha
//	S2      A      Denver  US      Alpha
//	S3      B      London  UK      Beta
//	S1      A      London  UK      Beta
const ClinicalYAML = `
name: Clinical
fact_table: visits
dimensions:
  - name: Subject
    levels:
      - name: Subject
        column: subject_id
    members:
      - name: S1
      - name: S2
      - name: S3
  - name: Cohort
    levels:
      - name: Cohort
        column: cohort
    members:
      - name: A
      - name: B
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
  - name: Study
    levels:
      - name: Study
        column: study
    members:
      - name: Alpha
      - name: Beta
measures:
  - name: SubjectCount
    level: "[Subject].[Subject]"
  - name: SiteCount
    level: "[Site].[Site]"
`

// ClinicalSQL creates and fills the fact and dimension tables behind
// ClinicalYAML. The statements run unchanged on DuckDB and SQLite.
var ClinicalSQL = []string{
	`CREATE TABLE sites (id INTEGER PRIMARY KEY, country VARCHAR, name VARCHAR)`,
	`INSERT INTO sites VALUES (1, 'US', 'Boston'), (2, 'US', 'Denver'), (3, 'UK', 'London')`,
	`CREATE TABLE visits (id INTEGER PRIMARY KEY, subject_id VARCHAR, cohort VARCHAR, site_id INTEGER, study VARCHAR)`,
	`INSERT INTO visits VALUES
		(1, 'S1', 'A', 1, 'Alpha'),
		(2, 'S2', 'A', 2, 'Alpha'),
		(3, 'S3', 'B', 3, 'Beta'),
		(4, 'S1', 'A', 3, 'Beta')`,
}

// ClinicalFacts lists the members of every visit in ClinicalSQL, row by row.
var ClinicalFacts = [][]string{
	{"[Subject].[Subject].[S1]", "[Cohort].[Cohort].[A]", "[Site].[Country].[US]", "[Site].[Site].[Boston]", "[Study].[Study].[Alpha]"},
	{"[Subject].[Subject].[S2]", "[Cohort].[Cohort].[A]", "[Site].[Country].[US]", "[Site].[Site].[Denver]", "[Study].[Study].[Alpha]"},
	{"[Subject].[Subject].[S3]", "[Cohort].[Cohort].[B]", "[Site].[Country].[UK]", "[Site].[Site].[London]", "[Study].[Study].[Beta]"},
	{"[Subject].[Subject].[S1]", "[Cohort].[Cohort].[A]", "[Site].[Country].[UK]", "[Site].[Site].[London]", "[Study].[Study].[Beta]"},
}

// FactMembers resolves ClinicalFacts against c.
func FactMembers(t *testing.T, c *cube.Cube) [][]*cube.Member {
	t.Helper()
	out := make([][]*cube.Member, len(ClinicalFacts))
	for i, row := range ClinicalFacts {
		for _, name := range row {
			out[i] = append(out[i], Member(t, c, name))
		}
	}
	return out
}

// ClinicalDefinition parses ClinicalYAML.
func ClinicalDefinition(t *testing.T) *cube.Definition {
	t.Helper()
	def, err := cube.ParseDefinition([]byte(ClinicalYAML))
	require.NoError(t, err)
	return def
}

// ClinicalCube builds the clinical cube from its explicit member lists.
func ClinicalCube(t *testing.T) *cube.Cube {
	t.Helper()
	b, err := ClinicalDefinition(t).Compile()
	require.NoError(t, err)
	c, err := b.Build()
	require.NoError(t, err)
	return c
}

// Member resolves a member unique name or fails the test.
func Member(t *testing.T, c *cube.Cube, uniqueName string) *cube.Member {
	t.Helper()
	m, ok := c.LookupMember(uniqueName)
	require.True(t, ok, "member %s", uniqueName)
	return m
}

// Level resolves a level unique name or fails the test.
func Level(t *testing.T, c *cube.Cube, uniqueName string) *cube.Level {
	t.Helper()
	l, ok := c.LookupLevel(uniqueName)
	require.True(t, ok, "level %s", uniqueName)
	return l
}

// OpenClinicalDuckDB opens an in-memory DuckDB loaded with ClinicalSQL.
func OpenClinicalDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	LoadClinicalData(t, db)
	return db
}

// LoadClinicalData runs ClinicalSQL against db.
func LoadClinicalData(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, stmt := range ClinicalSQL {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}
