package reader

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

const bioLogicEIS = "EC-Lab ASCII FILE\r\n" +
	"Nb header lines : 8\r\n" +
	"\r\n" +
	"Potentio Electrochemical Impedance Spectroscopy\r\n" +
	"\r\n" +
	"Acquisition started on : 10/02/2023 14:30:12.345\r\n" +
	"Electrode surface area : 0.785 cm\xB2\r\n" +
	"freq/Hz\tRe(Z)/Ohm\t-Im(Z)/Ohm\tcycle number\t\r\n" +
	"1,0000000E+005\t10,5\t0,3\t1,000\t\r\n" +
	"1,0000000E+003\t12,0\t5,2\t1,000\t\r\n"

const gamryEIS = "EXPLAIN\n" +
	"TAG\tEISPOT\n" +
	"TITLE\tLABEL\tcell A\tTest &Identifier\n" +
	"DATE\tLABEL\t3/14/2023\tDate\n" +
	"TIME\tLABEL\t10:22:33\tTime\n" +
	"AREA\tQUANT\t0.196\tSample &Area (cm^2)\n" +
	"NOTES\tNOTES\t1\t&Notes...\n" +
	"\tfresh electrolyte\n" +
	"ZCURVE\tTABLE\n" +
	"\tPt\tTime\tFreq\tZreal\tZimag\tZmod\tZphz\n" +
	"\t#\ts\tHz\tohm\tohm\tohm\t°\n" +
	"\t0\t1\t100000\t10.5\t-0.3\t10.5\t-1.6\n" +
	"\t1\t2\t1000\t12\t-5.2\t13.1\t-23.4\n"

const gamryCV = "EXPLAIN\n" +
	"TAG\tCV\n" +
	"OCVCURVE\tTABLE\t1\n" +
	"\tPt\tT\tVf\n" +
	"\t#\ts\tV vs. Ref.\n" +
	"\t0\t0\t0.1\n" +
	"CURVE1\tTABLE\n" +
	"\tPt\tT\tVf\tIm\n" +
	"\t#\ts\tV vs. Ref.\tA\n" +
	"\t0\t0\t0.0\t1e-6\n" +
	"\t1\t1\t0.1\t2e-6\n" +
	"CURVE2\tTABLE\n" +
	"\tPt\tT\tVf\tIm\n" +
	"\t#\ts\tV vs. Ref.\tA\n" +
	"\t0\t2\t0.0\t1e-6\n"

const delimitedCycling = "# sample: LFP-01\n" +
	"# technique: cycling\n" +
	"# start: 2023-10-02 14:30:00\n" +
	"# area = 1.13 cm2\n" +
	"time (s),voltage [V],current/mA,comment\n" +
	"0,3.2,1.0,ok\n" +
	"1,3.3,1.0,ok\n" +
	"2,bad,1.0,ok\n" +
	"3,3.4\n"

func TestBioLogicReader(t *testing.T) {
	rd := NewBioLogicReader(DefaultOptions())

	t.Run("Detect", func(t *testing.T) {
		assert.True(t, rd.Detect("run.mpt", nil))
		assert.True(t, rd.Detect("export.txt", []byte(bioLogicMagic+"\n")))
		assert.False(t, rd.Detect("export.txt", []byte("time,I\n")))
	})

	t.Run("EIS export with decimal comma", func(t *testing.T) {
		tbl, err := rd.Read(context.Background(), strings.NewReader(bioLogicEIS))
		require.NoError(t, err)

		assert.Equal(t, "biologic", tbl.Reader)
		assert.Equal(t, "windows-1252", tbl.Encoding)
		assert.Equal(t, measurement.TechniqueEIS, tbl.Technique)
		assert.Equal(t, "Potentio Electrochemical Impedance Spectroscopy", tbl.TechniqueName)
		assert.Equal(t, time.Date(2023, 10, 2, 14, 30, 12, 345e6, time.UTC), tbl.StartTime)
		assert.Equal(t, "0.785 cm²", tbl.Header[HeaderElectrodeArea])
		assert.Equal(t, []string{"freq", "Re(Z)", "-Im(Z)", "cycle number"}, tbl.ColumnNames())
		assert.Equal(t, 2, tbl.Len())
		assert.Zero(t, tbl.WarningCount)

		freq, ok := tbl.Column("freq")
		require.True(t, ok)
		assert.Equal(t, "Hz", freq.Unit)
		assert.Equal(t, []float64{1e5, 1e3}, freq.Values)

		imag, _ := tbl.Column("-Im(Z)")
		assert.Equal(t, "Ohm", imag.Unit)
		assert.Equal(t, []float64{0.3, 5.2}, imag.Values)
	})

	t.Run("Invalid number skips the row", func(t *testing.T) {
		in := "time/s\tEwe/V\n0\t1.0\n1\tx\n2\t1.2\n"
		tbl, err := rd.Read(context.Background(), strings.NewReader(in))
		require.NoError(t, err)

		assert.Equal(t, 2, tbl.Len())
		require.Len(t, tbl.Warnings, 1)
		assert.Equal(t, ErrCodeReadInvalidNumber, tbl.Warnings[0].Code)
		assert.Equal(t, 3, tbl.Warnings[0].Row)
		assert.Equal(t, "x", tbl.Warnings[0].Value)
	})

	t.Run("Malformed line count", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader(bioLogicMagic+"\nNb header lines : many\n"))
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("Truncated header", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader(bioLogicMagic+"\nNb header lines : 20\n\nCyclic Voltammetry\n"))
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("Header without data", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader("time/s\tEwe/V\n"))
		assert.ErrorIs(t, err, ErrNoDataRows)
	})
}

func TestBioLogicTechnique(t *testing.T) {
	tests := map[string]measurement.Technique{
		"Potentio Electrochemical Impedance Spectroscopy": measurement.TechniqueEIS,
		"Galvanostatic Cycling with Potential Limitation": measurement.TechniqueCycling,
		"Cyclic Voltammetry":                              measurement.TechniqueCyclicVoltammetry,
		"Chronoamperometry / Chronocoulometry":            measurement.TechniquePotentiostatic,
		"Chronopotentiometry":                             measurement.TechniqueGalvanostatic,
		"Open Circuit Voltage":                            measurement.TechniqueUnknown,
	}
	for title, want := range tests {
		assert.Equal(t, want, bioLogicTechnique(title), title)
	}
}

func TestGamryReader(t *testing.T) {
	rd := NewGamryReader(DefaultOptions())

	t.Run("Detect", func(t *testing.T) {
		assert.True(t, rd.Detect("EIS_1.DTA", nil))
		assert.True(t, rd.Detect("noext", []byte("EXPLAIN\r\nTAG\tCV")))
		assert.False(t, rd.Detect("run.csv", []byte("a,b")))
	})

	t.Run("Impedance table", func(t *testing.T) {
		tbl, err := rd.Read(context.Background(), strings.NewReader(gamryEIS))
		require.NoError(t, err)

		assert.Equal(t, measurement.TechniqueEIS, tbl.Technique)
		assert.Equal(t, "EISPOT", tbl.TechniqueName)
		assert.Equal(t, time.Date(2023, 3, 14, 10, 22, 33, 0, time.UTC), tbl.StartTime)
		assert.Equal(t, "cell A", tbl.Header[HeaderSampleName])
		assert.Equal(t, "0.196 cm^2", tbl.Header[HeaderElectrodeArea])
		assert.NotContains(t, tbl.Header, "NOTES")
		assert.Equal(t, []string{"Pt", "Time", "Freq", "Zreal", "Zimag", "Zmod", "Zphz"}, tbl.ColumnNames())
		assert.Equal(t, 2, tbl.Len())

		zimag, ok := tbl.Column("Zimag")
		require.True(t, ok)
		assert.Equal(t, "ohm", zimag.Unit)
		assert.Equal(t, []float64{-0.3, -5.2}, zimag.Values)

		pt, _ := tbl.Column("Pt")
		assert.Equal(t, "", pt.Unit)
	})

	t.Run("Curves are joined with a cycle column", func(t *testing.T) {
		tbl, err := rd.Read(context.Background(), strings.NewReader(gamryCV))
		require.NoError(t, err)

		assert.Equal(t, measurement.TechniqueCyclicVoltammetry, tbl.Technique)
		assert.Equal(t, []string{"Pt", "T", "Vf", "Im", GamryCycleColumn}, tbl.ColumnNames())
		assert.Equal(t, 3, tbl.Len())

		cycle, _ := tbl.Column(GamryCycleColumn)
		assert.Equal(t, []float64{1, 1, 2}, cycle.Values)
		vf, _ := tbl.Column("Vf")
		assert.Equal(t, "V", vf.Unit)
	})

	t.Run("Missing magic", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader("TAG\tCV\n"))
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("No tables", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader("EXPLAIN\nTAG\tCV\n"))
		assert.ErrorIs(t, err, ErrMissingHeader)
	})
}

func TestDelimitedReader(t *testing.T) {
	rd := NewDelimitedReader(DefaultOptions())

	t.Run("Comment header and row problems", func(t *testing.T) {
		tbl, err := rd.Read(context.Background(), strings.NewReader(delimitedCycling))
		require.NoError(t, err)

		assert.Equal(t, "LFP-01", tbl.Header[HeaderSampleName])
		assert.Equal(t, "1.13 cm2", tbl.Header[HeaderElectrodeArea])
		assert.Equal(t, measurement.TechniqueCycling, tbl.Technique)
		assert.Equal(t, time.Date(2023, 10, 2, 14, 30, 0, 0, time.UTC), tbl.StartTime)

		assert.Equal(t, []string{"time", "voltage", "current"}, tbl.ColumnNames())
		assert.Equal(t, 3, tbl.Len())

		current, _ := tbl.Column("current")
		assert.Equal(t, "mA", current.Unit)
		assert.Equal(t, 1.0, current.Values[0])
		assert.True(t, math.IsNaN(current.Values[2]))

		codes := make(map[string]int)
		for _, w := range tbl.Warnings {
			codes[w.Code]++
		}
		assert.Equal(t, 1, codes[ErrCodeReadTextColumn])
		assert.Equal(t, 1, codes[ErrCodeReadInvalidNumber])
		assert.Equal(t, 1, codes[ErrCodeReadMalformedRow])
		assert.Equal(t, 3, tbl.WarningCount)
	})

	t.Run("Semicolon with decimal comma", func(t *testing.T) {
		tbl, err := rd.Read(context.Background(), strings.NewReader("t/s;E/V\n0;0,5\n1;0,75\n"))
		require.NoError(t, err)

		e, ok := tbl.Column("E")
		require.True(t, ok)
		assert.Equal(t, []float64{0.5, 0.75}, e.Values)
	})

	t.Run("Timestamp column", func(t *testing.T) {
		in := "timestamp,potential/V\n2023-10-02 14:30:00,0.1\n2023-10-02 14:30:02.500,0.2\n"
		tbl, err := rd.Read(context.Background(), strings.NewReader(in))
		require.NoError(t, err)

		ts, ok := tbl.Column("timestamp")
		require.True(t, ok)
		assert.True(t, ts.Timestamp)
		assert.Equal(t, "s", ts.Unit)
		assert.Equal(t, []float64{0, 2.5}, ts.Values)
		assert.Equal(t, time.Date(2023, 10, 2, 14, 30, 0, 0, time.UTC), tbl.StartTime)
	})

	t.Run("Only comments", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader("# sample: x\n"))
		assert.ErrorIs(t, err, ErrMissingHeader)
	})

	t.Run("Empty file", func(t *testing.T) {
		_, err := rd.Read(context.Background(), strings.NewReader(""))
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("t/s,E/V\n")
		for i := 0; i < 3000; i++ {
			fmt.Fprintf(&sb, "%d,0.1\n", i)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := rd.Read(ctx, strings.NewReader(sb.String()))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, '\t', sniffDelimiter("a\tb\tc"))
	assert.Equal(t, ';', sniffDelimiter("a;b;c"))
	assert.Equal(t, ',', sniffDelimiter("a,b,c"))
	assert.Equal(t, ',', sniffDelimiter("single"))
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry(DefaultOptions())

	t.Run("Detection order", func(t *testing.T) {
		assert.Equal(t, []string{"biologic", "gamry", "delimited"}, reg.Names())

		rd, err := reg.Detect("data/run.mpt", nil)
		require.NoError(t, err)
		assert.Equal(t, "biologic", rd.Name())

		rd, err = reg.Detect("data/run.txt", []byte(gamryMagic+"\n"))
		require.NoError(t, err)
		assert.Equal(t, "gamry", rd.Name())

		rd, err = reg.Detect("data/run.csv", []byte("a,b\n"))
		require.NoError(t, err)
		assert.Equal(t, "delimited", rd.Name())
	})

	t.Run("Unknown format", func(t *testing.T) {
		_, err := reg.Detect("blob.bin", []byte{0x00, 0x01})
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})

	t.Run("Resolve by name", func(t *testing.T) {
		rd, err := reg.Resolve("gamry", "x.csv", nil)
		require.NoError(t, err)
		assert.Equal(t, "gamry", rd.Name())

		_, err = reg.Resolve("nope", "x.csv", nil)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("Duplicate registration", func(t *testing.T) {
		err := reg.Register(NewGamryReader(DefaultOptions()))
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)

		err = reg.Register(nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}
