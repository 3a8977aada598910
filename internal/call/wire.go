package call

import "github.com/pion/webrtc/v4"

type participantInfo struct {
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type initiateCall struct {
	CallerID   string          `json:"callerId"`
	ReceiverID string          `json:"receiverId"`
	CallType   Kind            `json:"callType"`
	CallerInfo participantInfo `json:"callerInfo"`
	CallID     string          `json:"callId"`
}

type incomingCall struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CallType     string `json:"callType"`
	CallID       string `json:"callId"`
}

type acceptCall struct {
	CallerID     string          `json:"callerId"`
	CallID       string          `json:"callId"`
	ReceiverInfo participantInfo `json:"receiverInfo"`
}

type rejectCall struct {
	CallerID string `json:"callerId"`
	CallID   string `json:"callId"`
	Reason   string `json:"reason,omitempty"`
}

type endCall struct {
	CallID        string `json:"callId"`
	ParticipantID string `json:"participantId"`
}

// callRef is the payload of call_accepted, call_rejected, call_ended and
// call_failed. Every field is optional.
type callRef struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type sdpMessage struct {
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	ReceiverID string                     `json:"receiverId,omitempty"`
	SenderID   string                     `json:"senderId,omitempty"`
	CallID     string                     `json:"callId"`
}

type candidateMessage struct {
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
	ReceiverID string                  `json:"receiverId,omitempty"`
	SenderID   string                  `json:"senderId,omitempty"`
	CallID     string                  `json:"callId"`
}
