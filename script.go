package netmangle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// scenarioFieldCount is the number of numeric columns before the
// free-form description.
const scenarioFieldCount = 5

// ParseScenarioFile loads a scenario from a file on disk.
func ParseScenarioFile(path string, logger zerolog.Logger) ([]*NetworkEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario file: %w", err)
	}
	defer f.Close()

	events, err := ParseScenario(f, logger)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return events, nil
}

// ParseScenario reads a scenario, one event per line:
//
//	<start_ms> <duration_ms> <bandwidth_bps> <delay_ms> <loss_per_10000> <description...>
//
// Blank lines and lines starting with '#' are skipped. A malformed line
// is logged with its line number and skipped; it never aborts the parse.
func ParseScenario(r io.Reader, logger zerolog.Logger) ([]*NetworkEvent, error) {
	var events []*NetworkEvent

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ev, err := parseEventLine(line)
		if err != nil {
			logger.Warn().
				Int("line", lineno).
				Err(err).
				Msg("skipping malformed scenario line")
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return events, nil
}

// parseEventLine splits the five numeric columns off the front of the
// line and keeps whatever remains as the description.
func parseEventLine(line string) (*NetworkEvent, error) {
	rest := line
	var fields [scenarioFieldCount]int64
	for i := 0; i < scenarioFieldCount; i++ {
		rest = strings.TrimLeft(rest, " \t")
		end := strings.IndexAny(rest, " \t")
		token := rest
		if end >= 0 {
			token = rest[:end]
			rest = rest[end:]
		} else {
			rest = ""
		}
		if token == "" {
			return nil, fmt.Errorf("expected %d numeric fields, got %d", scenarioFieldCount, i)
		}
		v, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = v
	}

	if fields[0] < 0 || fields[1] < 0 {
		return nil, fmt.Errorf("negative start or duration")
	}

	return &NetworkEvent{
		StartMillis:    fields[0],
		DurationMillis: fields[1],
		BandwidthBits:  fields[2],
		DelayMillis:    fields[3],
		LossPer10000:   fields[4],
		Description:    strings.TrimSpace(rest),
	}, nil
}

// ScenarioDurationMillis returns the end of the latest event, which is
// the natural total runtime for a parsed scenario.
func ScenarioDurationMillis(events []*NetworkEvent) int64 {
	var max int64
	for _, ev := range events {
		if end := ev.StartMillis + ev.DurationMillis; end > max {
			max = end
		}
	}
	return max
}
