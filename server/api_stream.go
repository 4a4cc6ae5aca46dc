package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/detect"
)

// sseHeartbeat keeps intermediaries from timing out idle streams.
const sseHeartbeat = 15 * time.Second

// streamTopic serves one SSE connection off a broadcast topic. The first
// frame is always the topic snapshot; eviction surfaces as an error event
// followed by connection close.
func (a *API) streamTopic(w http.ResponseWriter, r *http.Request, topic *broadcast.Topic) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "streaming unsupported by connection"))
		return
	}

	sub, err := topic.Subscribe(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if ev.Name != "" {
				fmt.Fprintf(w, "event: %s\n", ev.Name)
			}
			fmt.Fprintf(w, "data: %s\n\n", ev.Data)
			flusher.Flush()
		}
	}
}

func (a *API) handleMachineStatusStream(w http.ResponseWriter, r *http.Request) {
	a.streamTopic(w, r, a.hub.Topic(detect.TopicMachineStatus))
}

func (a *API) handleMachineParamsStream(w http.ResponseWriter, r *http.Request) {
	a.streamTopic(w, r, a.hub.Topic(detect.TopicMachineParams))
}

func (a *API) handleSingleMachineParamsStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid machine id %q", chi.URLParam(r, "id")))
		return
	}
	if _, err := a.store.GetMachine(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	topic := a.hub.Topic(detect.MachineParamsTopic(id))
	topic.SetSnapshot(func(ctx context.Context) ([]byte, error) {
		rows, err := a.liveSource.AllTelemetry(ctx)
		if err != nil {
			return nil, err
		}
		if row, ok := rows[id]; ok {
			return json.Marshal(row)
		}
		return []byte("null"), nil
	})
	a.streamTopic(w, r, topic)
}

func (a *API) handleShiftwiseStream(w http.ResponseWriter, r *http.Request) {
	a.streamTopic(w, r, a.hub.Topic(detect.TopicShiftwise))
}

// handleParamHistoryStream pushes the rolling 30-minute window of one
// machine parameter. The window loop starts lazily on first subscription.
func (a *API) handleParamHistoryStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid machine id %q", chi.URLParam(r, "id")))
		return
	}
	if _, err := a.store.GetMachine(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	param := chi.URLParam(r, "name")
	if _, ok := detect.ParamValue(&emptyTelemetryRow, param); !ok {
		a.writeError(w, apperr.New(apperr.KindNotFound, "unknown parameter %q", param))
		return
	}
	topic := a.history.Ensure(a.baseCtx, id, param)
	a.streamTopic(w, r, topic)
}
