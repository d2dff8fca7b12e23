package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/burst-adaptation/pkg/models"
)

// writeSpikeFiles stores a spike train as two text files with one value per
// line: spike times in ms and the 0-based index of the sending neuron
func writeSpikeFiles(timesPath, indicesPath string, train *models.SpikeTrain) error {
	if err := writeLines(timesPath, len(train.TimesMs), func(i int) string {
		return strconv.FormatFloat(train.TimesMs[i], 'f', -1, 64)
	}); err != nil {
		return err
	}
	return writeLines(indicesPath, len(train.Senders), func(i int) string {
		return strconv.Itoa(train.Senders[i])
	})
}

func writeLines(path string, n int, line func(i int) string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		if _, err := w.WriteString(line(i)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readSpikeFiles loads the files written by writeSpikeFiles. Blank lines are
// skipped; indices written as floats ("3.0") are accepted.
func readSpikeFiles(timesPath, indicesPath string) ([]float64, []int, error) {
	var times []float64
	err := readLines(timesPath, func(lineNo int, text string) error {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: invalid spike time %q", timesPath, lineNo, text)
		}
		times = append(times, v)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var senders []int
	err = readLines(indicesPath, func(lineNo int, text string) error {
		if v, err := strconv.Atoi(text); err == nil {
			senders = append(senders, v)
			return nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || f != float64(int(f)) {
			return fmt.Errorf("%s:%d: invalid neuron index %q", indicesPath, lineNo, text)
		}
		senders = append(senders, int(f))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return times, senders, nil
}

func readLines(path string, fn func(lineNo int, text string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := fn(lineNo, text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
