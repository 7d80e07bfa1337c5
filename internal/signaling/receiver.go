package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtnet/internal/transport"
)

// receiver applies the remote side's signaling messages to the transport.
type receiver struct {
	tr     *transport.RTC
	conn   *websocket.Conn
	sender *sender

	// Candidates that arrived before the remote description.
	early     []webrtc.ICECandidateInit
	remoteSet bool
}

// watch reads messages until the WebSocket fails or is closed. An offer is
// answered immediately; answers and candidates are applied as they come.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.flush(); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.flush(); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if !r.remoteSet {
				r.early = append(r.early, init)
				continue
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

func (r *receiver) flush() error {
	r.remoteSet = true
	for _, c := range r.early {
		if err := r.tr.AddICECandidate(c); err != nil {
			return err
		}
	}
	r.early = nil
	return nil
}
