package domain

// DefaultSTUNServer is used when the join response carries no relay servers.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// RoomNegotiationResult holds the room parameters returned by telemed/join.
// It is produced once per connect attempt and discarded after the transports
// are built.
type RoomNegotiationResult struct {
	RoomID           string
	ClientID         string
	SignalingURL     string
	SignalingPostURL string
	IsInitiator      bool
	RelayRequired    bool
	ICEServers       []ICEServer
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

// Consultation is the order record fetched by id.
type Consultation struct {
	ChatID             *int    `json:"chatId"`
	RoomID             string  `json:"roomId"`
	Status             string  `json:"status"`
	OrderStatus        *int    `json:"orderStatus"`
	CompleteDate       string  `json:"completeDate"`
	SpecializationName string  `json:"specializationName"`
	SpecializationID   *int    `json:"specializationId"`
	Doctor             *Doctor `json:"doctor"`
	IsDuty             bool    `json:"isDuty"`
	IsPaid             bool    `json:"isPaid"`
}

// Doctor is the consultation's doctor as returned with the order.
type Doctor struct {
	ID         *int   `json:"id"`
	FullName   string `json:"fullName"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName"`
	Photo      string `json:"photo"`
	Experience *int   `json:"experience"`
}

// IncomingCallInfo describes the caller of an incoming call.
type IncomingCallInfo struct {
	Name           string
	Photo          string
	Specialization string
}

// IncomingCallInfoFrom builds caller info from the consultation, if known.
func IncomingCallInfoFrom(c *Consultation) IncomingCallInfo {
	if c == nil {
		return IncomingCallInfo{}
	}
	info := IncomingCallInfo{Specialization: c.SpecializationName}
	if c.Doctor != nil {
		info.Name = c.Doctor.FullName
		info.Photo = c.Doctor.Photo
	}
	return info
}
