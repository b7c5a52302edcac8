package netmangle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ApiServer is the HTTP control surface: the programmatic twin of the
// console. All parameter changes apply to both directions, exactly as
// the console commands do.
type ApiServer struct {
	Emulator *Emulator
	Metrics  *MetricsContainer
	Logger   zerolog.Logger

	http *http.Server
}

func NewApiServer(em *Emulator, metrics *MetricsContainer, logger zerolog.Logger) *ApiServer {
	return &ApiServer{
		Emulator: em,
		Metrics:  metrics,
		Logger:   logger,
	}
}

// DirectionState is the JSON report of one direction of the link.
type DirectionState struct {
	Direction     string `json:"direction"`
	Mode          string `json:"mode"`
	BandwidthBits int64  `json:"bandwidth_bps"`
	DelayMillis   int64  `json:"delay_ms"`
	LossPer10000  int64  `json:"loss_per_10000"`
	QueueLen      int    `json:"queue_len"`

	Received        int64 `json:"received"`
	Forwarded       int64 `json:"forwarded"`
	ForwardedBytes  int64 `json:"forwarded_bytes"`
	DroppedOverflow int64 `json:"dropped_overflow"`
	DroppedLoss     int64 `json:"dropped_loss"`
	ReadErrors      int64 `json:"read_errors"`
	WriteErrors     int64 `json:"write_errors"`
}

type setBandwidthRequest struct {
	BandwidthBits int64 `json:"bandwidth_bps"`
}

type setDelayRequest struct {
	DelayMillis int64 `json:"delay_ms"`
}

type setLossRequest struct {
	LossPer10000 int64 `json:"loss_per_10000"`
}

func (s *ApiServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/link", s.LinkShow).Methods("GET")
	r.HandleFunc("/link/bandwidth", s.LinkSetBandwidth).Methods("POST")
	r.HandleFunc("/link/delay", s.LinkSetDelay).Methods("POST")
	r.HandleFunc("/link/loss", s.LinkSetLoss).Methods("POST")
	r.HandleFunc("/version", s.Version).Methods("GET")

	if s.Metrics != nil && s.Metrics.exportsAny() {
		r.Handle("/metrics", s.Metrics.handler()).Methods("GET")
	}
	return r
}

// Listen serves the control API until Shutdown or a listener error.
func (s *ApiServer) Listen(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	s.Logger.Info().Str("addr", addr).Msg("control API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the API server, waiting briefly for in-flight requests.
func (s *ApiServer) Shutdown() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *ApiServer) LinkShow(response http.ResponseWriter, request *http.Request) {
	states := make([]DirectionState, 0, NumDirections)
	for dir := Direction(0); dir < NumDirections; dir++ {
		e := s.Emulator.Endpoint(dir)
		p := e.Shaper().Params()
		states = append(states, DirectionState{
			Direction:       dir.String(),
			Mode:            p.Mode().String(),
			BandwidthBits:   p.Bandwidth(),
			DelayMillis:     p.DelayMillis(),
			LossPer10000:    p.LossPer10000(),
			QueueLen:        e.QueueLen(),
			Received:        e.Stats.Received.Load(),
			Forwarded:       e.Stats.Forwarded.Load(),
			ForwardedBytes:  e.Stats.ForwardedBytes.Load(),
			DroppedOverflow: e.Stats.DroppedOverflow.Load(),
			DroppedLoss:     e.Stats.DroppedLoss.Load(),
			ReadErrors:      e.Stats.ReadErrors.Load(),
			WriteErrors:     e.Stats.WriteErrors.Load(),
		})
	}

	data, err := json.Marshal(states)
	if err != nil {
		http.Error(response, s.apiError(err, http.StatusInternalServerError),
			http.StatusInternalServerError)
		return
	}

	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusOK)
	if _, err := response.Write(data); err != nil {
		s.Logger.Warn().Err(err).Msg("LinkShow: failed to write response to client")
	}
}

func (s *ApiServer) LinkSetBandwidth(response http.ResponseWriter, request *http.Request) {
	var body setBandwidthRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(response, s.apiError(err, http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	s.Emulator.SetBandwidthBoth(body.BandwidthBits)
	response.WriteHeader(http.StatusNoContent)
}

func (s *ApiServer) LinkSetDelay(response http.ResponseWriter, request *http.Request) {
	var body setDelayRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(response, s.apiError(err, http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	s.Emulator.SetDelayMillisBoth(body.DelayMillis)
	response.WriteHeader(http.StatusNoContent)
}

func (s *ApiServer) LinkSetLoss(response http.ResponseWriter, request *http.Request) {
	var body setLossRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(response, s.apiError(err, http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	s.Emulator.SetLossBoth(body.LossPer10000)
	response.WriteHeader(http.StatusNoContent)
}

func (s *ApiServer) Version(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "text/plain;charset=utf-8")
	if _, err := response.Write([]byte(Version)); err != nil {
		s.Logger.Warn().Err(err).Msg("Version: failed to write response to client")
	}
}

func (s *ApiServer) apiError(err error, code int) string {
	return fmt.Sprintf(`{"title": %q, "status": %d}`, err.Error(), code)
}
