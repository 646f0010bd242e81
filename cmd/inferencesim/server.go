package main

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vision-caption-client/internal/protocol"
)

var defaultCaptions = []string{
	"a person is crossing the street ahead",
	"a parked car is blocking the sidewalk",
	"stairs going down in front of you",
	"a bicycle is approaching from the left",
	"an open door is on your right",
}

// Simulator answers capture frames the way the captioning backend does: a
// classifier decides whether the frame is safe (no reply) or a hazard, and
// hazards are captioned token by token, finished by the sentinel.
type Simulator struct {
	captions   [][]string
	safeProb   float64
	tokenDelay time.Duration

	randMu sync.Mutex
	rand   func() float64

	next     atomic.Uint64
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewSimulator(captions []string, safeProb float64, tokenDelay time.Duration, log zerolog.Logger) *Simulator {
	if len(captions) == 0 {
		captions = defaultCaptions
	}
	tokenized := make([][]string, 0, len(captions))
	for _, c := range captions {
		if f := strings.Fields(c); len(f) > 0 {
			tokenized = append(tokenized, f)
		}
	}

	return &Simulator{
		captions:   tokenized,
		safeProb:   safeProb,
		tokenDelay: tokenDelay,
		rand:       rand.Float64,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
		},
		log: log,
	}
}

// ServeHTTP upgrades the request and serves captures until the client leaves.
// Frames on one connection are handled in arrival order.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.log.Info().Str("remote", remote).Msg("Client connected")
	defer s.log.Info().Str("remote", remote).Msg("Client disconnected")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		id, frame, err := protocol.DecodeCapture(data)
		if err != nil {
			s.log.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed capture")
			continue
		}
		if err := s.handleFrame(conn, id, frame); err != nil {
			s.log.Warn().Err(err).Str("captureId", id).Msg("Write error")
			return
		}
	}
}

func (s *Simulator) handleFrame(conn *websocket.Conn, id string, frame []byte) error {
	if s.safe() {
		s.log.Debug().Str("captureId", id).Int("bytes", len(frame)).Msg("Frame classified safe")
		return nil
	}

	tokens := s.captions[s.next.Add(1)%uint64(len(s.captions))]
	s.log.Info().Str("captureId", id).Int("tokens", len(tokens)).Msg("Frame classified hazard, captioning")

	for _, tok := range tokens {
		if s.tokenDelay > 0 {
			time.Sleep(s.tokenDelay)
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.EncodeToken(id, tok))); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(protocol.EncodeToken(id, protocol.Sentinel)))
}

func (s *Simulator) safe() bool {
	if s.safeProb <= 0 {
		return false
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand() < s.safeProb
}
