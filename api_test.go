package netmangle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestApi(t *testing.T) (*ApiServer, *httptest.Server) {
	t.Helper()
	em, _ := testEmulator(t, &fakeClock{})
	api := NewApiServer(em, NewMetricsContainer(false, false), zerolog.Nop())
	ts := httptest.NewServer(api.routes())
	t.Cleanup(ts.Close)
	return api, ts
}

func TestApiLinkShow(t *testing.T) {
	api, ts := newTestApi(t)
	api.Emulator.SetDelayMillisBoth(40)

	resp, err := http.Get(ts.URL + "/link")
	if err != nil {
		t.Fatalf("GET /link: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var states []DirectionState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(states) != int(NumDirections) {
		t.Fatalf("got %d directions, want %d", len(states), NumDirections)
	}
	for _, st := range states {
		if st.DelayMillis != 40 || st.Mode != "unlimited" {
			t.Fatalf("unexpected state: %+v", st)
		}
	}
}

func TestApiLinkSetters(t *testing.T) {
	api, ts := newTestApi(t)

	cases := []struct {
		path  string
		body  string
		check func() bool
	}{
		{"/link/bandwidth", `{"bandwidth_bps": 3000000}`, func() bool {
			return api.Emulator.Params()[AtoB].Bandwidth() == 3000000
		}},
		{"/link/delay", `{"delay_ms": 75}`, func() bool {
			return api.Emulator.Params()[BtoA].DelayMillis() == 75
		}},
		{"/link/loss", `{"loss_per_10000": 500}`, func() bool {
			return api.Emulator.Params()[AtoB].LossPer10000() == 500
		}},
	}
	for _, c := range cases {
		resp, err := http.Post(ts.URL+c.path, "application/json", strings.NewReader(c.body))
		if err != nil {
			t.Fatalf("POST %s: %v", c.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("POST %s: status = %d, want 204", c.path, resp.StatusCode)
		}
		if !c.check() {
			t.Fatalf("POST %s did not apply", c.path)
		}
	}
}

func TestApiRejectsMalformedBody(t *testing.T) {
	_, ts := newTestApi(t)

	resp, err := http.Post(ts.URL+"/link/bandwidth", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestApiVersion(t *testing.T) {
	_, ts := newTestApi(t)

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
