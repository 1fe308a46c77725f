package realtime

import "encoding/json"

const (
	// EventSnapshot carries the full event collection to every client.
	EventSnapshot = "events"
	// EventRequest is the inbound diagnostic request.
	EventRequest = "request_event"
	// EventResponse answers EventRequest on the requesting connection.
	EventResponse = "event_response"

	ResponseMessage = "Evento enviado com sucesso!"
)

// Frame is one websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response is the data of an EventResponse frame.
type Response struct {
	Message         string          `json:"message"`
	OriginalRequest json.RawMessage `json:"originalRequest"`
}

// Encode marshals data into a frame of the given event name.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
