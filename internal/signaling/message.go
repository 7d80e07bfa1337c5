// Package signaling performs the SDP/ICE exchange that sets up a WebRTC
// datagram transport. The exchange runs over a WebSocket: the client sends
// the offer, the server answers, and both sides trickle ICE candidates until
// the DataChannel opens.
package signaling

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
