// Package webrtc broadcasts preview frames over WebRTC data channels:
// each connected client gets one ordered, reliable DataChannel fed a
// small binary preview (geometry header + 8-bit stretched pixels) of
// every frame a pkg/camconsumer attachment delivers, since the
// distribution path here is shared memory, not a media codec.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/taoshm/camerafabric/internal/logger"
)

// Preview is one rendered frame ready to broadcast: an 8-bit
// min/max-stretched grayscale buffer plus the geometry needed to
// interpret it.
type Preview struct {
	Width, Height int
	Pixels        []byte
	Counter       int64
}

// Client is one connected WebRTC viewer.
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	channel       *webrtc.DataChannel
	previewChan   chan Preview
	closeChan     chan struct{}
	framesSent    uint64
	framesDropped uint64
}

// Server manages WebRTC preview broadcasting to any number of viewers.
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
}

// NewServer creates a preview-broadcasting WebRTC server. stunServers
// with no entries falls back to a public STUN server, matching the
// teacher's default.
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
	}
}

// HandleOffer negotiates a new viewer connection and returns the SDP
// answer as JSON.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()
	if numClients >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := webrtc.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ordered := true
	channel, err := peerConn.CreateDataChannel("preview", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := &Client{
		id:          generateClientID(),
		peerConn:    peerConn,
		channel:     channel,
		previewChan: make(chan Preview, 4),
		closeChan:   make(chan struct{}),
	}

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Info("webrtc", "client %s ICE state: %s", client.id, state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	channel.OnOpen(func() {
		go s.sendPreviews(client)
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	logger.Info("webrtc", "client %s connected", client.id)

	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Broadcast fans p out to every connected client's send queue,
// dropping it for clients whose queue is currently full rather than
// blocking the producer.
func (s *Server) Broadcast(p Preview) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.previewChan <- p:
		default:
			client.framesDropped++
		}
	}
}

// encodePreview packs width, height, counter (all little-endian
// int32/int64) followed by the raw pixel bytes, so the browser client
// can decode it without a general-purpose serialization format.
func encodePreview(p Preview) []byte {
	buf := make([]byte, 16+len(p.Pixels))
	putUint32(buf[0:], uint32(p.Width))
	putUint32(buf[4:], uint32(p.Height))
	putUint64(buf[8:], uint64(p.Counter))
	copy(buf[16:], p.Pixels)
	return buf
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (s *Server) sendPreviews(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case p := <-client.previewChan:
			if err := client.channel.Send(encodePreview(p)); err != nil {
				logger.Warn("webrtc", "send failed for client %s: %v", client.id, err)
				return
			}
			client.framesSent++
		}
	}
}

// RemoveClient tears down and forgets one client.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	client, exists := s.clients[clientID]
	if !exists {
		return
	}
	close(client.closeChan)
	client.peerConn.Close()
	delete(s.clients, clientID)

	logger.Info("webrtc", "client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.framesSent, client.framesDropped)
}

// ClientCount returns the number of connected viewers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats reports per-client send/drop counters.
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_sent":    client.framesSent,
			"frames_dropped": client.framesDropped,
		}
	}
	return stats
}

// Close disconnects every client.
func (s *Server) Close() error {
	s.clientsMu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.Unlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

func generateClientID() string {
	return fmt.Sprintf("client-%d", time.Now().UnixNano())
}
