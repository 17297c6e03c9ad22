package mesh

import "encoding/json"

// Payload kinds exchanged during negotiation.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

// Payload is the negotiation message relayed through the server. The
// server treats it as opaque bytes; only mesh peers decode it.
type Payload struct {
	Kind          string  `json:"kind"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (p Payload) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}

func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(raw, &p)
	return p, err
}
