package signal

import (
	"encoding/json"
	"fmt"

	"github.com/drtelemed/drsdk/internal/domain"
)

// registerCommand binds the socket to a room.
type registerCommand struct {
	Cmd      string `json:"cmd"`
	RoomID   string `json:"roomid"`
	ClientID string `json:"clientid"`
}

// sendCommand relays msg to the other room member.
type sendCommand struct {
	Cmd string `json:"cmd"`
	Msg string `json:"msg"`
}

// inbound is what the collider delivers.
type inbound struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

type wireCandidate struct {
	Type      string `json:"type,omitempty"`
	Label     int    `json:"label"`
	ID        string `json:"id"`
	Candidate string `json:"candidate"`
}

type wireMessage struct {
	Type       string          `json:"type"`
	SDP        string          `json:"sdp,omitempty"`
	Label      *int            `json:"label,omitempty"`
	ID         string          `json:"id,omitempty"`
	Candidate  string          `json:"candidate,omitempty"`
	Candidates []wireCandidate `json:"candidates,omitempty"`
}

func toWire(c domain.ICECandidatePayload) wireCandidate {
	return wireCandidate{Type: string(domain.SignalCandidate), Label: c.SDPMLineIndex, ID: c.SDPMid, Candidate: c.Candidate}
}

func fromWire(c wireCandidate) domain.ICECandidatePayload {
	return domain.ICECandidatePayload{SDPMid: c.ID, SDPMLineIndex: c.Label, Candidate: c.Candidate}
}

func encodeMessage(msg domain.SignalMessage) ([]byte, error) {
	w := wireMessage{Type: string(msg.Type)}
	switch msg.Type {
	case domain.SignalOffer, domain.SignalAnswer:
		w.SDP = msg.SDP
	case domain.SignalCandidate:
		label := msg.Candidate.SDPMLineIndex
		w.Label = &label
		w.ID = msg.Candidate.SDPMid
		w.Candidate = msg.Candidate.Candidate
	case domain.SignalCandidateRemoval:
		w.Candidates = make([]wireCandidate, 0, len(msg.Candidates))
		for _, c := range msg.Candidates {
			w.Candidates = append(w.Candidates, toWire(c))
		}
	case domain.SignalBye:
	default:
		return nil, fmt.Errorf("unknown signal type %q", msg.Type)
	}
	return json.Marshal(w)
}

func decodeMessage(data []byte) (domain.SignalMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.SignalMessage{}, fmt.Errorf("unmarshal signal: %w", err)
	}

	msg := domain.SignalMessage{Type: domain.SignalType(w.Type)}
	switch msg.Type {
	case domain.SignalOffer, domain.SignalAnswer:
		msg.SDP = w.SDP
	case domain.SignalCandidate:
		msg.Candidate = domain.ICECandidatePayload{SDPMid: w.ID, Candidate: w.Candidate}
		if w.Label != nil {
			msg.Candidate.SDPMLineIndex = *w.Label
		}
	case domain.SignalCandidateRemoval:
		for _, c := range w.Candidates {
			msg.Candidates = append(msg.Candidates, fromWire(c))
		}
	case domain.SignalBye:
	default:
		return domain.SignalMessage{}, fmt.Errorf("unknown signal type %q", w.Type)
	}
	return msg, nil
}
