package protocol

// Signaling event names shared with the room server.
const (
	// Requests (client -> server, answered once).
	EventJoinRoom             = "join-room"
	EventCreateTransport      = "create-transport"
	EventTransportConnect     = "transport-connect"
	EventTransportProduce     = "transport-produce"
	EventTransportRecvConnect = "transport-recv-connect"
	EventConsume              = "consume"
	EventGetProducers         = "get-producers"

	// Fire-and-forget.
	EventConsumerResume = "consumer-resume"

	// Pushes (server -> client).
	EventNewProducer       = "new-producer"
	EventProducerClosed    = "producer-closed"
	EventConnectionSuccess = "connection-success"
)

// JoinRoomRequest is the payload of join-room.
type JoinRoomRequest struct {
	RoomName string `json:"roomName"`
	Name     string `json:"name"`
}

// JoinRoomResponse carries the router capabilities of the room.
type JoinRoomResponse struct {
	RtpCapabilities RtpCapabilities `json:"rtpCapabilities"`
}

// CreateTransportRequest asks the server for a send (Consumer=false) or
// receive (Consumer=true) transport.
type CreateTransportRequest struct {
	Consumer bool `json:"consumer"`
}

// CreateTransportResponse wraps the transport parameters. Params.Error is
// set when the server refused.
type CreateTransportResponse struct {
	Params TransportParams `json:"params"`
}

type ConnectRequest struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type RecvConnectRequest struct {
	DtlsParameters            DtlsParameters `json:"dtlsParameters"`
	ServerConsumerTransportID string         `json:"serverConsumerTransportId"`
}

type ProduceRequest struct {
	Kind          MediaKind      `json:"kind"`
	RtpParameters RtpParameters  `json:"rtpParameters"`
	AppData       map[string]any `json:"appData,omitempty"`
}

// ProduceResponse returns the server-side producer id. ProducersExist reports
// whether other participants are already publishing in the room.
type ProduceResponse struct {
	ID             string `json:"id"`
	ProducersExist bool   `json:"producersExist"`
	Error          string `json:"error,omitempty"`
}

type ConsumeRequest struct {
	RtpCapabilities           RtpCapabilities `json:"rtpCapabilities"`
	RemoteProducerID          string          `json:"remoteProducerId"`
	ServerConsumerTransportID string          `json:"serverConsumerTransportId"`
}

type ConsumeResponse struct {
	Params ConsumerParams `json:"params"`
}

// ConsumerParams describes a server-side consumer created paused.
type ConsumerParams struct {
	ID               string        `json:"id"`
	ProducerID       string        `json:"producerId"`
	Kind             MediaKind     `json:"kind"`
	RtpParameters    RtpParameters `json:"rtpParameters"`
	ServerConsumerID string        `json:"serverConsumerId"`
	Error            string        `json:"error,omitempty"`
}

type ConsumerResume struct {
	ServerConsumerID string `json:"serverConsumerId"`
}

// ProducerInfo is one entry of get-producers and the body of new-producer.
// The id arrives as producerID or producerId depending on the server.
type ProducerInfo struct {
	ProducerID string `json:"producerID" msgpack:"producerID,alias:producerId"`
	Name       string `json:"name"`
}

type ProducerClosed struct {
	RemoteProducerID string `json:"remoteProducerId"`
}

type ConnectionSuccess struct {
	SocketID string `json:"socketId"`
}
