package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/aristath/bastion/internal/domain"
)

// streamEnvelope is one websocket ingestion frame: a kind tag plus the
// payload for that kind.
type streamEnvelope struct {
	Kind    string          `json:"kind"` // "market" or "sentiment"
	Payload json.RawMessage `json:"payload"`
}

// handleStream accepts a websocket and ingests market/sentiment frames
// until the peer closes or a frame fails to parse.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	for {
		var env streamEnvelope
		if err := readJSON(ctx, conn, &env); err != nil {
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}

		switch env.Kind {
		case "market":
			var sample domain.MarketSample
			if err := json.Unmarshal(env.Payload, &sample); err != nil {
				s.log.Warn().Err(err).Msg("Bad market frame")
				continue
			}
			if err := s.engine.IngestMarket(sample); err != nil {
				s.log.Warn().Err(err).Str("symbol", sample.Symbol).Msg("Market frame rejected")
				continue
			}
			s.metrics.IngestedSamples.Inc()
		case "sentiment":
			var sample domain.SentimentSample
			if err := json.Unmarshal(env.Payload, &sample); err != nil {
				s.log.Warn().Err(err).Msg("Bad sentiment frame")
				continue
			}
			if err := s.engine.IngestSentiment(sample); err != nil {
				s.log.Warn().Err(err).Str("ticker", sample.Ticker).Msg("Sentiment frame rejected")
				continue
			}
			s.metrics.IngestedSamples.Inc()
		default:
			s.log.Warn().Str("kind", env.Kind).Msg("Unknown stream frame kind")
		}
	}
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
