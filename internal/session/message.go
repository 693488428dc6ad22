package session

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nbd-wtf/go-nostr"
)

var (
	errGeneric        = errors.New("the request must be a JSON array with a length greater than one")
	errInvalidEvent   = errors.New("an EVENT request must follow this format: ['EVENT', {event_JSON}]")
	errInvalidReq     = errors.New("a REQ request must follow this format: ['REQ', subscription_id, filter1, ...]")
	errInvalidClose   = errors.New("a CLOSE request must follow this format: ['CLOSE', subscription_id]")
)

// clientFrame is a parsed NIP-01 message from the client, tagged by label.
type clientFrame struct {
	label   string
	subID   string
	event   *nostr.Event
	filters nostr.Filters
}

func parseClientFrame(data []byte) (clientFrame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return clientFrame{}, errGeneric
	}

	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return clientFrame{}, errGeneric
	}

	switch label {
	case "EVENT":
		var event nostr.Event
		if err := json.Unmarshal(raw[1], &event); err != nil {
			return clientFrame{}, fmt.Errorf("%w: %v", errInvalidEvent, err)
		}
		return clientFrame{label: label, event: &event}, nil

	case "REQ":
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return clientFrame{}, errInvalidReq
		}
		filters := make(nostr.Filters, 0, len(raw)-2)
		for _, part := range raw[2:] {
			var f nostr.Filter
			if err := json.Unmarshal(part, &f); err != nil {
				return clientFrame{}, errInvalidReq
			}
			filters = append(filters, f)
		}
		return clientFrame{label: label, subID: subID, filters: filters}, nil

	case "CLOSE":
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return clientFrame{}, errInvalidClose
		}
		return clientFrame{label: label, subID: subID}, nil

	default:
		return clientFrame{label: label}, nil
	}
}

// upstreamKind1 inspects a raw relay->client frame and, if it is
// ["EVENT", subID, {...}] carrying a kind-1 event, returns its id and
// created_at for insertion into the reference cache.
func upstreamKind1(data []byte) (id string, createdAt int64, ok bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 3 {
		return "", 0, false
	}
	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil || label != "EVENT" {
		return "", 0, false
	}
	var event nostr.Event
	if err := json.Unmarshal(raw[2], &event); err != nil {
		return "", 0, false
	}
	if event.Kind != 1 {
		return "", 0, false
	}
	return event.ID, int64(event.CreatedAt), true
}

// okResponse, closedResponse and noticeResponse marshal themselves the same
// way the upstream relay would, so a client can't tell a locally-produced
// verdict from one relayed straight through.
type okResponse struct {
	ID     string
	Saved  bool
	Reason string
}

func (o okResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"OK", o.ID, o.Saved, o.Reason})
}

type closedResponse struct {
	SubID  string
	Reason string
}

func (c closedResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{"CLOSED", c.SubID, c.Reason})
}

type noticeResponse struct {
	Message string
}

func (n noticeResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{"NOTICE", n.Message})
}

func noticeFrame(message string) []byte {
	b, _ := noticeResponse{Message: message}.MarshalJSON()
	return b
}

func okFrame(id string, saved bool, reason string) []byte {
	b, _ := okResponse{ID: id, Saved: saved, Reason: reason}.MarshalJSON()
	return b
}

func closedFrame(subID, reason string) []byte {
	b, _ := closedResponse{SubID: subID, Reason: reason}.MarshalJSON()
	return b
}
