package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/analysis"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/version"
)

const galvanostaticCSV = `# sample: LFP-01
# operator: jdoe
time/s,voltage/V,current/mA
0,3.30,1.0
10,3.35,1.0
20,3.40,1.0
30,3.45,1.0
`

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// workspace holds a config file and a data directory in a temp dir
type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T, extra string) *workspace {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`[log]
level = "error"

[catalog]
path = %q

[ingest]
max_workers = 2
retry_attempts = 1
retry_delay = "1ms"
%s`, filepath.ToSlash(filepath.Join(dir, "catalog.db")), extra)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &workspace{dir: dir, config: path}
}

func (w *workspace) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (w *workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return run(t, append([]string{"--config", w.config}, args...)...)
}

func TestBanner(t *testing.T) {
	want := "Echem Data Tool - Data evaluation tool for electrochemical experiments\n" +
		"Version: 0.1.0\n" +
		"Faraday constant (F): 96485.33212 C mol^-1\n" +
		"Gas constant (R): 8.314462618 J mol^-1 K^-1\n" +
		"Avogadro constant (N_A): 6.02214076e+23 mol^-1\n" +
		"Elementary charge (e): 1.602176634e-19 C\n"

	code, stdout, stderr := run(t)
	assert.Equal(t, 0, code)
	assert.Equal(t, want, stdout)
	assert.Empty(t, stderr)
	assert.Len(t, strings.Split(strings.TrimSuffix(stdout, "\n"), "\n"), 6)

	code, again, _ := run(t)
	assert.Equal(t, 0, code)
	assert.Equal(t, stdout, again)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, `unknown command "frobnicate" for "echem"`},
		{"unknown root flag", []string{"--bogus"}, "unknown flag: --bogus"},
		{"unknown subcommand flag", []string{"constants", "--nope"}, "unknown flag: --nope"},
		{"missing argument", []string{"results"}, "accepts 1 arg(s), received 0"},
		{"bad id", []string{"results", "not-a-uuid"}, `invalid measurement ID "not-a-uuid"`},
		{"no files", []string{"import"}, "requires at least 1 arg(s)"},
		{"bad technique", []string{"import", "--technique", "polarography", "x.csv"}, "polarography"},
		{"unknown analyzer", []string{"analyze", "--analyzer", "nyquist", "x.csv"}, `unknown analyzer "nyquist"`},
		{"infinite limiting potential", []string{"analyze", "--limiting-potential", "inf", "x.csv"}, "limiting potential must be finite"},
		{"bare migrate", []string{"migrate"}, "a migrate subcommand is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := run(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "Error: ")
			assert.Contains(t, stderr, tt.want)
			assert.Contains(t, stderr, "Usage:")
		})
	}
}

func TestAnalysisParams(t *testing.T) {
	w := newWorkspace(t, `
[analysis]
limiting_potential = 0.2
temperature = 310.15
`)
	a := &app{configPath: w.config, stdout: io.Discard, stderr: io.Discard}
	t.Cleanup(a.close)
	require.NoError(t, a.load())

	p, err := a.analysisParams(nil)
	require.NoError(t, err)
	require.NotNil(t, p.LimitingPotential)
	assert.Equal(t, 0.2, *p.LimitingPotential)
	assert.Equal(t, 310.15, p.Temperature)

	override := -0.4
	p, err = a.analysisParams(&override)
	require.NoError(t, err)
	assert.Equal(t, -0.4, *p.LimitingPotential)

	a.cfg.Analysis.Diffusivity = -1
	_, err = a.analysisParams(nil)
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestWriteLoaded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLoaded(&buf, map[measurement.Technique]int{
		measurement.TechniqueRDE:           3,
		measurement.TechniqueEIS:           2,
		measurement.TechniqueGalvanostatic: 1,
	}))
	assert.Equal(t, "loaded: 2 eis, 1 galvanostatic, 3 rde\n", buf.String())

	buf.Reset()
	require.NoError(t, writeLoaded(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "echem "+version.Get()+"\n", stdout)
}

func TestConstantsCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		code, stdout, _ := run(t, "constants")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "KEY")
		assert.Contains(t, stdout, constants.FaradayConstant)
		assert.Contains(t, stdout, "96485.33212")
		assert.Contains(t, stdout, "J mol^-1 K^-1")
	})

	t.Run("json", func(t *testing.T) {
		code, stdout, _ := run(t, "constants", "--json")
		require.Equal(t, 0, code)

		var got []constants.Constant
		require.NoError(t, json.Unmarshal([]byte(stdout), &got))
		assert.Len(t, got, len(constants.All()))
		for _, c := range got {
			if c.Key == constants.ElementaryCharge {
				assert.Equal(t, "1.602176634e-19", c.FormatValue())
			}
		}
	})
}

func TestConfigErrors(t *testing.T) {
	code, _, stderr := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "error reading config file")
	assert.NotContains(t, stderr, "Usage:")
}

func TestCatalogDisabled(t *testing.T) {
	w := newWorkspace(t, "")
	require.NoError(t, os.WriteFile(w.config, []byte("[catalog]\nenabled = false\n"), 0o644))

	code, _, stderr := w.run(t, "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "catalog is disabled")

	data := w.file(t, "cell1.csv", galvanostaticCSV)
	code, stdout, _ := w.run(t, "import", data)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "1 files: 1 imported, 0 skipped, 0 failed")
}

func TestImportListResults(t *testing.T) {
	w := newWorkspace(t, "")
	data := w.file(t, "runs/cell1.csv", galvanostaticCSV)

	code, stdout, stderr := w.run(t, "import", "--tag", "lfp", data)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "imported")
	assert.Contains(t, stdout, "galvanostatic")
	assert.Contains(t, stdout, "1 files: 1 imported, 0 skipped, 0 failed")
	assert.Contains(t, stdout, "loaded: 1 galvanostatic\n")

	code, stdout, stderr = w.run(t, "list", "--json")
	require.Equal(t, 0, code, stderr)
	var summaries []measurement.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summaries))
	require.Len(t, summaries, 1)
	s := summaries[0]
	assert.Equal(t, measurement.TechniqueGalvanostatic, s.Metadata.Technique)
	assert.Equal(t, "LFP-01", s.Metadata.SampleName)
	assert.Equal(t, 4, s.Points)
	assert.Equal(t, []string{"lfp"}, s.Tags)
	id := s.ID.String()

	t.Run("table", func(t *testing.T) {
		code, stdout, _ := w.run(t, "list", "--technique", "galvanostatic")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, id)
		assert.Contains(t, stdout, "LFP-01")
		assert.Contains(t, stdout, "Showing 1 of 1 measurements")

		code, stdout, _ = w.run(t, "list", "--technique", "eis")
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "Showing 0 of 0 measurements")
	})

	t.Run("reimport replaces", func(t *testing.T) {
		code, stdout, _ := w.run(t, "import", data)
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, id)
		assert.Contains(t, stdout, "replaced catalog entry")
	})

	t.Run("skip existing", func(t *testing.T) {
		code, stdout, _ := w.run(t, "import", "--skip-existing", data)
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "already catalogued")
		assert.Contains(t, stdout, "1 files: 0 imported, 1 skipped, 0 failed")
	})

	t.Run("analyze and save", func(t *testing.T) {
		code, stdout, stderr := w.run(t, "analyze", "--json", "--save", data)
		require.Equal(t, 0, code, stderr)

		var report struct {
			MeasurementID string                `json:"measurement_id"`
			Analyzer      string                `json:"analyzer"`
			Technique     measurement.Technique `json:"technique"`
			Result        analysis.SweepResult  `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, id, report.MeasurementID)
		assert.Equal(t, "summary", report.Analyzer)
		assert.Equal(t, measurement.TechniqueGalvanostatic, report.Technique)
		assert.Equal(t, 4, report.Result.Points)
		assert.InDelta(t, 30.0, report.Result.Duration, 1e-9)
		assert.InDelta(t, 0.03, report.Result.Charge, 1e-9)
	})

	t.Run("results", func(t *testing.T) {
		code, stdout, stderr := w.run(t, "results", "--json", id)
		require.Equal(t, 0, code, stderr)

		var got struct {
			Measurement measurement.Summary          `json:"measurement"`
			Results     []measurement.AnalysisRecord `json:"results"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &got))
		assert.Equal(t, id, got.Measurement.ID.String())
		require.Len(t, got.Results, 1)
		assert.Equal(t, "summary", got.Results[0].Analyzer)

		code, stdout, _ = w.run(t, "results", id)
		require.Equal(t, 0, code)
		assert.Contains(t, stdout, "Technique:")
		assert.Contains(t, stdout, "summary (")
		assert.Contains(t, stdout, `"charge_c"`)
	})

	t.Run("unknown id", func(t *testing.T) {
		code, _, stderr := w.run(t, "results", "00000000-0000-0000-0000-000000000001")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Error: ")
		assert.NotContains(t, stderr, "Usage:")
	})

	t.Run("migrate version", func(t *testing.T) {
		code, stdout, _ := w.run(t, "migrate", "version")
		require.Equal(t, 0, code)
		assert.Equal(t, "Version 1\n", stdout)
	})
}

func TestImportFailures(t *testing.T) {
	w := newWorkspace(t, "")
	good := w.file(t, "good.csv", galvanostaticCSV)
	missing := filepath.Join(w.dir, "missing.csv")

	code, stdout, stderr := w.run(t, "import", good, missing)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "2 files: 1 imported, 0 skipped, 1 failed")
	assert.Contains(t, stdout, "open:")
	assert.Contains(t, stderr, "1 of 2 files failed to import")

	code, _, stderr = w.run(t, "analyze", missing)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "missing.csv")
}

func TestInspectCommand(t *testing.T) {
	w := newWorkspace(t, "")
	data := w.file(t, "cell1.csv", galvanostaticCSV)

	code, stdout, stderr := w.run(t, "inspect", data)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Reader:")
	assert.Contains(t, stdout, "delimited")
	assert.Contains(t, stdout, "Rows:")
	assert.Contains(t, stdout, "operator")
	assert.Contains(t, stdout, "potential")

	code, stdout, stderr = w.run(t, "inspect", "--json", data)
	require.Equal(t, 0, code, stderr)
	var got struct {
		URI     string       `json:"uri"`
		Reader  string       `json:"reader"`
		Rows    int          `json:"rows"`
		Columns []columnInfo `json:"columns"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "delimited", got.Reader)
	assert.Equal(t, 4, got.Rows)
	require.Len(t, got.Columns, 3)
	assert.Equal(t, "voltage", got.Columns[1].Name)
	assert.Equal(t, "potential", got.Columns[1].Quantity)
	assert.Equal(t, 4, got.Columns[1].Points)

	code, _, stderr = w.run(t, "inspect", "--reader", "solartron", data)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "solartron")
}

func TestMigrateCommands(t *testing.T) {
	w := newWorkspace(t, "")

	code, stdout, _ := w.run(t, "migrate", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "000001_create_catalog")

	code, stdout, _ = w.run(t, "migrate", "version")
	require.Equal(t, 0, code)
	assert.Equal(t, "No migrations applied\n", stdout)

	code, _, stderr := w.run(t, "migrate", "up")
	require.Equal(t, 0, code, stderr)
	code, stdout, _ = w.run(t, "migrate", "version")
	require.Equal(t, 0, code)
	assert.Equal(t, "Version 1\n", stdout)

	code, _, stderr = w.run(t, "migrate", "force", "abc")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `invalid version "abc"`)

	dir := filepath.Join(w.dir, "migrations")
	code, stdout, stderr = w.run(t, "migrate", "create", "--dir", dir, "add_cells")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "000001_add_cells.up.sql")
	assert.FileExists(t, filepath.Join(dir, "sqlite3", "000001_add_cells.up.sql"))
	assert.FileExists(t, filepath.Join(dir, "postgres", "000001_add_cells.down.sql"))
}
