package persistence

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltools/dockscreen/internal/domain/molecule"
	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/types/mol"
)

func posedButane(t *testing.T, name string) *molecule.Molecule {
	t.Helper()
	m, err := molecule.New(name,
		[]molecule.Atom{{Element: "C"}, {Element: "C"}, {Element: "O"}, {Element: "N"}},
		[]molecule.Bond{{A: 0, B: 1, Order: 1}, {A: 1, B: 2, Order: 2}, {A: 2, B: 3, Order: 1}},
		[]mol.Vec3{{0, 1, 0}, {0, 0, 0}, {1, 0, 0}, {1, 1, 0}},
	)
	require.NoError(t, err)
	require.NoError(t, m.SetCoordinates(molecule.ConformerPose,
		[]mol.Vec3{{0.5, 1.25, -0.75}, {0, 0, 0}, {1.5, 0, 2}, {1, 1, 3.125}}))
	return m
}

func TestSDFRoundTrip(t *testing.T) {
	m := posedButane(t, "lig-a")
	var buf strings.Builder
	require.NoError(t, WriteSDF(&buf, m, molecule.ConformerPose))

	mols, err := ReadSDF(strings.NewReader(buf.String()), logging.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, mols, 1)
	got := mols[0]
	require.NotNil(t, got)

	assert.Equal(t, "lig-a", got.Name())
	assert.Equal(t, m.NumAtoms(), got.NumAtoms())
	assert.Equal(t, m.Bonds(), got.Bonds())
	assert.Equal(t, "O", got.Atoms()[2].Element)

	want, err := m.Coordinates(molecule.ConformerPose)
	require.NoError(t, err)
	read, err := got.Coordinates(molecule.ConformerInput)
	require.NoError(t, err)
	for i := range want {
		for axis := 0; axis < 3; axis++ {
			assert.InDelta(t, want[i][axis], read[i][axis], 1e-4)
		}
	}
}

func TestWriteSDFRequiresConformer(t *testing.T) {
	m, err := molecule.New("bare", []molecule.Atom{{Element: "C"}}, nil, []mol.Vec3{{0, 0, 0}})
	require.NoError(t, err)
	var buf strings.Builder
	assert.Error(t, WriteSDF(&buf, m, molecule.ConformerPose))
}

func TestReadSDFKeepsIndexAlignmentAcrossBadRecords(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteSDF(&buf, posedButane(t, "first"), molecule.ConformerPose))
	buf.WriteString("broken\nrecord\n$$$$\n")
	require.NoError(t, WriteSDF(&buf, posedButane(t, "third"), molecule.ConformerPose))

	mols, err := ReadSDF(strings.NewReader(buf.String()), logging.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, mols, 3)
	assert.Equal(t, "first", mols[0].Name())
	assert.Nil(t, mols[1], "unparseable records hold their position as nil")
	assert.Equal(t, "third", mols[2].Name())
}

func TestReadSDFWithoutTrailingDelimiter(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteSDF(&buf, posedButane(t, "only"), molecule.ConformerPose))
	trimmed := strings.TrimSuffix(buf.String(), "$$$$\n")

	mols, err := ReadSDF(strings.NewReader(trimmed), logging.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, mols, 1)
	require.NotNil(t, mols[0])
	assert.Equal(t, "only", mols[0].Name())
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestFileWriterFreshRun(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, false, logging.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, w.WritePose(posedButane(t, "lig-a"), 0, "lig-a", -1.25))
	require.NoError(t, w.WriteFailure(3, "lig-d.sdf"))
	require.NoError(t, w.Close())

	success, err := os.ReadFile(filepath.Join(dir, SuccessLogName))
	require.NoError(t, err)
	assert.Equal(t, "0 lig-a\n", string(success))

	failed, err := os.ReadFile(filepath.Join(dir, FailedLogName))
	require.NoError(t, err)
	assert.Equal(t, "3 lig-d.sdf\n", string(failed))

	rows := readCSV(t, filepath.Join(dir, ConfidenceCSVName))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"filename", "confidence_score", "status"}, rows[0])
	assert.Equal(t, []string{"lig-a.sdf", "-1.25", "success"}, rows[1])
	assert.Equal(t, []string{"lig-d.sdf", "", "failed"}, rows[2], "names keep a single .sdf suffix")

	mols, err := ReadSDFFile(filepath.Join(dir, OutputSDFName), logging.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, mols, 1)
	assert.Equal(t, "lig-a", mols[0].Name())
}

func TestEnsureSDFSuffix(t *testing.T) {
	cases := map[string]string{
		"lig-a":     "lig-a.sdf",
		"lig-a.sdf": "lig-a.sdf",
		"LIG.SDF":   "LIG.SDF",
		"lig.Sdf":   "lig.Sdf",
		"7":         "7.sdf",
	}
	for name, want := range cases {
		assert.Equal(t, want, ensureSDFSuffix(name), "name %q", name)
	}
}

func TestFileWriterResumeAppends(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWriter(dir, false, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, w.WritePose(posedButane(t, "lig-a"), 0, "lig-a", -0.5))
	require.NoError(t, w.Close())

	w, err = NewFileWriter(dir, true, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, w.WritePose(posedButane(t, "lig-b"), 1, "lig-b", -2))
	require.NoError(t, w.Close())

	success, err := os.ReadFile(filepath.Join(dir, SuccessLogName))
	require.NoError(t, err)
	assert.Equal(t, "0 lig-a\n1 lig-b\n", string(success))

	rows := readCSV(t, filepath.Join(dir, ConfidenceCSVName))
	require.Len(t, rows, 3, "resume must not repeat the header")
	assert.Equal(t, []string{"filename", "confidence_score", "status"}, rows[0])
	assert.Equal(t, "lig-b.sdf", rows[2][0])

	mols, err := ReadSDFFile(filepath.Join(dir, OutputSDFName), logging.NewNopLogger())
	require.NoError(t, err)
	assert.Len(t, mols, 2)
}

func TestFileWriterTruncatesWithoutResume(t *testing.T) {
	dir := t.TempDir()

	w, err := NewFileWriter(dir, false, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, w.WritePose(posedButane(t, "lig-a"), 0, "lig-a", -0.5))
	require.NoError(t, w.Close())

	w, err = NewFileWriter(dir, false, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	success, err := os.ReadFile(filepath.Join(dir, SuccessLogName))
	require.NoError(t, err)
	assert.Empty(t, string(success))

	rows := readCSV(t, filepath.Join(dir, ConfidenceCSVName))
	require.Len(t, rows, 1, "a fresh run starts from a bare header")
}
