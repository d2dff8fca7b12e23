package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

func TestSpikeFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	times := filepath.Join(dir, "times.dat")
	indices := filepath.Join(dir, "indices.dat")
	train := &models.SpikeTrain{
		TimesMs: []float64{0.5, 12, 3600000},
		Senders: []int{0, 41, 7},
	}

	require.NoError(t, writeSpikeFiles(times, indices, train))

	raw, err := os.ReadFile(times)
	require.NoError(t, err)
	assert.Equal(t, "0.5\n12\n3600000\n", string(raw))

	gotTimes, gotSenders, err := readSpikeFiles(times, indices)
	require.NoError(t, err)
	assert.Equal(t, train.TimesMs, gotTimes)
	assert.Equal(t, train.Senders, gotSenders)
}

func TestReadSpikeFilesAcceptsFloatIndicesAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	times := writeFile(t, dir, "times.dat", "1.5\n\n2.5\n")
	indices := writeFile(t, dir, "indices.dat", "3.0\n\n4\n")

	gotTimes, gotSenders, err := readSpikeFiles(times, indices)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.5}, gotTimes)
	assert.Equal(t, []int{3, 4}, gotSenders)
}

func TestReadSpikeFilesErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.dat", "1\n")

	_, _, err := readSpikeFiles(filepath.Join(dir, "missing.dat"), good)
	assert.Error(t, err)

	badTimes := writeFile(t, dir, "bad_times.dat", "1\nabc\n")
	_, _, err = readSpikeFiles(badTimes, good)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2: invalid spike time")

	badIndices := writeFile(t, dir, "bad_indices.dat", "1.5\n")
	_, _, err = readSpikeFiles(good, badIndices)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid neuron index")
}

func TestWriteSpikeFilesEmptyTrain(t *testing.T) {
	dir := t.TempDir()
	times := filepath.Join(dir, "times.dat")
	indices := filepath.Join(dir, "indices.dat")

	require.NoError(t, writeSpikeFiles(times, indices, &models.SpikeTrain{}))
	info, err := os.Stat(times)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
