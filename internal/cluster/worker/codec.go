package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// wireMessage is the JSON framing used on external transports:
// {"id": 1, "type": "GET_CLUSTERS", "data": {...}}.
type wireMessage struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a request frame. Unrecognised tags decode to an
// UnknownRequest so the worker can answer them in-band. When the frame or its
// payload is malformed the returned envelope still carries the id and an
// InvalidRequest with the recognised tag, alongside the decode error, so the
// caller can post it and keep replies in order.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var m wireMessage
	if err := json.Unmarshal(b, &m); err != nil {
		err = fmt.Errorf("decode frame: %w", err)
		return Envelope{ID: m.ID, Request: InvalidRequest{Kind: TypeError, Err: err}}, err
	}

	var (
		req Request
		err error
	)
	switch Type(m.Type) {
	case TypeLoad:
		var r LoadRequest
		err = unmarshalData(m.Data, &r)
		req = r
	case TypeGetClusters:
		var r GetClustersRequest
		err = unmarshalData(m.Data, &r)
		req = r
	case TypeGetChildren:
		var r GetChildrenRequest
		err = unmarshalData(m.Data, &r)
		req = r
	case TypeGetClusterExpansionZoom:
		var r GetClusterExpansionZoomRequest
		err = unmarshalData(m.Data, &r)
		req = r
	default:
		req = UnknownRequest{Tag: m.Type}
	}
	if err != nil {
		return Envelope{ID: m.ID, Request: InvalidRequest{Kind: Type(m.Type), Err: err}}, err
	}
	return Envelope{ID: m.ID, Request: req}, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// EncodeEnvelope renders a request frame.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var data json.RawMessage
	switch env.Request.(type) {
	case UnknownRequest, InvalidRequest:
	default:
		b, err := json.Marshal(env.Request)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(wireMessage{ID: env.ID, Type: string(env.Request.Type()), Data: data})
}

// EncodeReply renders a reply frame.
func EncodeReply(r Reply) ([]byte, error) {
	data, err := json.Marshal(r.Response)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{ID: r.ID, Type: r.Response.Tag(), Data: data})
}

// DecodeReply parses a reply frame.
func DecodeReply(b []byte) (Reply, error) {
	var m wireMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return Reply{}, fmt.Errorf("decode frame: %w", err)
	}

	var resp Response
	switch m.Type {
	case TypeLoad.SuccessType():
		var r LoadSuccess
		if err := unmarshalData(m.Data, &r); err != nil {
			return Reply{}, err
		}
		resp = r
	case TypeGetClusters.SuccessType():
		var r ClustersSuccess
		if err := unmarshalData(m.Data, &r); err != nil {
			return Reply{}, err
		}
		resp = r
	case TypeGetChildren.SuccessType():
		var r ChildrenSuccess
		if err := unmarshalData(m.Data, &r); err != nil {
			return Reply{}, err
		}
		resp = r
	case TypeGetClusterExpansionZoom.SuccessType():
		var r ExpansionZoomSuccess
		if err := unmarshalData(m.Data, &r); err != nil {
			return Reply{}, err
		}
		resp = r
	default:
		var r ErrorResponse
		if err := unmarshalData(m.Data, &r); err != nil {
			return Reply{}, err
		}
		switch {
		case m.Type == string(TypeError):
			r.Request = TypeError
		case strings.HasSuffix(m.Type, "_ERROR"):
			r.Request = Type(strings.TrimSuffix(m.Type, "_ERROR"))
		default:
			return Reply{}, fmt.Errorf("%w: unknown reply type %q", domain.ErrChannel, m.Type)
		}
		resp = r
	}
	return Reply{ID: m.ID, Response: resp}, nil
}
