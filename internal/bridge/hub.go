package bridge

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dannaaduna/oacd-core/internal/media"
	"github.com/dannaaduna/oacd-core/internal/metrics"
	"github.com/dannaaduna/oacd-core/internal/queue"
	"github.com/dannaaduna/oacd-core/internal/registry"
	"github.com/dannaaduna/oacd-core/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// driverUpgrader is the websocket upgrader for media driver connections
var driverUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Internal service endpoint
		return true
	},
}

// offerMessage announces a fresh inbound contact from a driver
type offerMessage struct {
	Type string `json:"type"` // "offer"
	Call struct {
		ID        string         `json:"id"`
		MediaType string         `json:"mediaType"`
		CallerID  [2]string      `json:"callerId"`
		Client    string         `json:"client"`
		Queue     string         `json:"queue"`
		Skills    types.SkillSet `json:"skills"`
		PopURL    string         `json:"popUrl"`
		RingPath  string         `json:"ringPath"`
		MediaPath string         `json:"mediaPath"`
	} `json:"call"`
}

// Hub maintains the set of connected media driver processes. External
// drivers (telephony bridge, mail front end) push contacts and lifecycle
// events through it and receive ring and hangup instructions back
type Hub struct {
	drivers map[string]*Conn // driverID -> connection

	register   chan *Conn
	unregister chan *Conn

	queues *queue.Manager
	reg    *registry.Registry

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a hub
func NewHub(queues *queue.Manager, reg *registry.Registry, logger zerolog.Logger) *Hub {
	return &Hub{
		drivers:    make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		queues:     queues,
		reg:        reg,
		logger:     logger.With().Str("component", "bridge").Logger(),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			// Replace any previous connection for the same driver
			if existing, ok := h.drivers[conn.driverID]; ok {
				existing.Close()
				delete(h.drivers, conn.driverID)
			}
			h.drivers[conn.driverID] = conn
			h.mu.Unlock()

			metrics.Get().BridgeConnections.Inc()
			h.logger.Info().
				Str("driver_id", conn.driverID).
				Int("total_drivers", len(h.drivers)).
				Msg("media driver connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.drivers[conn.driverID]; ok && existing == conn {
				delete(h.drivers, conn.driverID)
			}
			h.mu.Unlock()
			conn.Close()
			metrics.Get().BridgeConnections.Dec()

			// Sessions holding calls from this driver observe media death
			for _, login := range conn.attachedLogins() {
				if s, ok := h.reg.Query(login); ok {
					s.MediaDeath()
				}
			}
			h.logger.Info().
				Str("driver_id", conn.driverID).
				Msg("media driver disconnected")
		}
	}
}

// ServeHTTP handles websocket upgrade requests from media drivers
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver")
	if driverID == "" {
		http.Error(w, "driver query parameter required", http.StatusBadRequest)
		return
	}

	ws, err := driverUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade driver connection")
		return
	}

	conn := newConn(h, ws, h.logger.With().Str("driver_id", driverID).Logger())
	conn.driverID = driverID

	h.register <- conn
	conn.Start()
}

// handleMessage processes one inbound frame from a driver connection
func (h *Hub) handleMessage(c *Conn, message []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &head); err != nil {
		c.logger.Debug().Err(err).Msg("failed to parse message type")
		return
	}

	switch head.Type {
	case "result":
		var res driverResult
		if err := json.Unmarshal(message, &res); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse result message")
			return
		}
		c.resolve(res)

	case "offer":
		var offer offerMessage
		if err := json.Unmarshal(message, &offer); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse offer message")
			return
		}
		h.handleOffer(c, offer)

	case "event":
		var ev struct {
			Type    string         `json:"type"`
			Login   string         `json:"login"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse event message")
			return
		}
		if s, ok := h.reg.Query(ev.Login); ok {
			s.MediaEvent(ev.Payload)
		}

	case "mediaload":
		var ml struct {
			Type     string `json:"type"`
			Login    string `json:"login"`
			FullPane bool   `json:"fullPane"`
		}
		if err := json.Unmarshal(message, &ml); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse mediaload message")
			return
		}
		if s, ok := h.reg.Query(ml.Login); ok {
			s.MediaLoad(ml.FullPane)
		}

	case "hangup":
		var hu struct {
			Type   string `json:"type"`
			CallID string `json:"callId"`
			Login  string `json:"login"`
		}
		if err := json.Unmarshal(message, &hu); err != nil {
			c.logger.Debug().Err(err).Msg("failed to parse hangup message")
			return
		}
		c.untrackCall(hu.CallID)
		if s, ok := h.reg.Query(hu.Login); ok {
			s.CallerHangup()
		} else if h.queues.Abandon(hu.CallID) == nil {
			c.logger.Debug().Str("call_id", hu.CallID).Msg("hangup for unknown call")
		}

	default:
		c.logger.Debug().Str("type", head.Type).Msg("unknown message type")
	}
}

// handleOffer turns a driver offer into a queued media record
func (h *Hub) handleOffer(c *Conn, offer offerMessage) {
	mediaType := types.MediaType(offer.Call.MediaType)
	switch mediaType {
	case types.MediaVoice, types.MediaEmail, types.MediaChat, types.MediaVoicemail:
	default:
		c.logger.Warn().Str("media_type", offer.Call.MediaType).Msg("offer with unknown media type dropped")
		return
	}

	callID := offer.Call.ID
	if callID == "" {
		callID = uuid.New().String()
	}

	call := &media.Call{
		ID:        callID,
		Type:      mediaType,
		Source:    &wsDriver{conn: c, callID: callID},
		CallerID:  offer.Call.CallerID,
		Client:    offer.Call.Client,
		Direction: types.DirectionInbound,
		RingPath:  pathMode(offer.Call.RingPath, types.PathOutband),
		MediaPath: pathMode(offer.Call.MediaPath, types.PathInband),
		Skills:    offer.Call.Skills,
		PopURL:    offer.Call.PopURL,
	}

	queueName := offer.Call.Queue
	if queueName == "" {
		queueName = "default_queue"
	}
	h.queues.Enqueue(queueName, call)
}

func pathMode(raw string, def types.PathMode) types.PathMode {
	switch types.PathMode(raw) {
	case types.PathInband:
		return types.PathInband
	case types.PathOutband:
		return types.PathOutband
	default:
		return def
	}
}
