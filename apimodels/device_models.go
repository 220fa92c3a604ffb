package apimodels

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageType tags the payload of an Envelope.
type MessageType string

const (
	DeviceIDMessage MessageType = "deviceId"
	JoinMessage     MessageType = "join"
	WorkMessage     MessageType = "work"
)

// Envelope is the frame exchanged with devices over the socket in both
// directions.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Peer identifies another device working on the same task.
type Peer struct {
	Number  int    `json:"number"`
	Address string `json:"address"`
}

// WorkAssignment is what a device needs to take part in a task. It travels
// JSON-encoded as the string data of a work envelope.
type WorkAssignment struct {
	TaskID         string `json:"task_id"`
	Number         int    `json:"number"`
	MetadataURL    string `json:"metadata_url"`
	ChunkURL       string `json:"chunk_url"`
	DataType       string `json:"data_type"`
	DataTypeParams string `json:"data_type_params"`
	Peers          []Peer `json:"devices_list"`
}

// NewDeviceIDEnvelope tells a device its identifier. An empty id
// acknowledges a join.
func NewDeviceIDEnvelope(id string) Envelope {
	data, _ := json.Marshal(id)
	return Envelope{Type: DeviceIDMessage, Data: data}
}

// NewWorkEnvelope wraps an assignment for dispatch.
func NewWorkEnvelope(a WorkAssignment) (Envelope, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "encoding work assignment")
	}
	data, err := json.Marshal(string(payload))
	if err != nil {
		return Envelope{}, errors.Wrap(err, "encoding work envelope data")
	}
	return Envelope{Type: WorkMessage, Data: data}, nil
}

// Message is an inbound envelope resolved to one of Join, Work or Unknown.
type Message interface {
	Type() MessageType
}

// Join is a device asking to be acknowledged.
type Join struct{}

func (Join) Type() MessageType { return JoinMessage }

// Work is a device reporting on an assignment. Assignment is nil when the
// data is not a decodable assignment.
type Work struct {
	Assignment *WorkAssignment
	Raw        json.RawMessage
}

func (Work) Type() MessageType { return WorkMessage }

// Unknown carries any envelope whose type is not recognized.
type Unknown struct {
	Tag  MessageType
	Data json.RawMessage
}

func (u Unknown) Type() MessageType { return u.Tag }

// ParseMessage decodes a raw frame. It returns an error only when the frame
// is not an envelope at all.
func ParseMessage(frame []byte) (Message, error) {
	env := Envelope{}
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(err, "decoding envelope")
	}
	if env.Type == "" {
		return nil, errors.New("envelope has no type")
	}

	switch env.Type {
	case JoinMessage:
		return Join{}, nil
	case WorkMessage:
		return Work{Assignment: decodeAssignment(env.Data), Raw: env.Data}, nil
	default:
		return Unknown{Tag: env.Type, Data: env.Data}, nil
	}
}

// DecodeAssignment reads the assignment out of a work envelope.
func (e Envelope) DecodeAssignment() (*WorkAssignment, error) {
	if e.Type != WorkMessage {
		return nil, errors.Errorf("envelope type is '%s', not '%s'", e.Type, WorkMessage)
	}
	a := decodeAssignment(e.Data)
	if a == nil {
		return nil, errors.New("envelope data is not a work assignment")
	}
	return a, nil
}

// decodeAssignment accepts the assignment either as a JSON string holding
// the encoded object or as the object itself.
func decodeAssignment(data json.RawMessage) *WorkAssignment {
	if len(data) == 0 {
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = json.RawMessage(encoded)
	}

	a := &WorkAssignment{}
	if err := json.Unmarshal(data, a); err != nil || a.TaskID == "" {
		return nil
	}
	return a
}
