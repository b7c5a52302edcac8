package netmangle

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/netmangle/netmangle/collectors"
)

func scrape(t *testing.T, m *MetricsContainer) []string {
	t.Helper()
	server := httptest.NewServer(m.handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestPipelineMetricsExported(t *testing.T) {
	m := NewMetricsContainer(true, false)

	m.Pipeline.ReceivedFramesTotal.WithLabelValues("a_to_b").Add(5)
	m.Pipeline.ForwardedBytesTotal.WithLabelValues("a_to_b").Add(320)
	m.Pipeline.DroppedFramesTotal.
		WithLabelValues("a_to_b", collectors.DropLoss).Add(2)

	expected := []string{
		`netmangle_pipeline_received_frames_total{direction="a_to_b"} 5`,
		`netmangle_pipeline_forwarded_bytes_total{direction="a_to_b"} 320`,
		`netmangle_pipeline_dropped_frames_total{direction="a_to_b",reason="loss"} 2`,
	}

	lines := scrape(t, m)
	for _, want := range expected {
		found := false
		for _, line := range lines {
			if line == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("metric %q not exported", want)
		}
	}
}

func TestPipelineCountersCollectedButNotServedWhenDisabled(t *testing.T) {
	m := NewMetricsContainer(false, true)

	// The pipeline increments regardless of the export flag.
	m.Pipeline.ReceivedFramesTotal.WithLabelValues("a_to_b").Inc()

	for _, line := range scrape(t, m) {
		if strings.HasPrefix(line, "netmangle_pipeline") {
			t.Fatalf("pipeline metric served while export disabled: %s", line)
		}
	}
}

func TestRuntimeMetricsExported(t *testing.T) {
	m := NewMetricsContainer(false, true)

	for _, line := range scrape(t, m) {
		if strings.HasPrefix(line, "go_goroutines") {
			return
		}
	}
	t.Fatal("runtime collectors exported no go_goroutines metric")
}

func TestExportsAny(t *testing.T) {
	if NewMetricsContainer(false, false).exportsAny() {
		t.Fatal("container with no exports reports metrics enabled")
	}
	if !NewMetricsContainer(true, false).exportsAny() {
		t.Fatal("container exporting pipeline metrics reports disabled")
	}
}
