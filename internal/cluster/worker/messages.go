// Package worker hosts a cluster.Index on its own goroutine and exposes it
// through a typed request/response message channel.
package worker

import (
	"errors"

	"github.com/samirrijal/voltmap/internal/core/domain"
)

// Type tags a request on the wire.
type Type string

const (
	TypeLoad                    Type = "LOAD"
	TypeGetClusters             Type = "GET_CLUSTERS"
	TypeGetChildren             Type = "GET_CHILDREN"
	TypeGetClusterExpansionZoom Type = "GET_CLUSTER_EXPANSION_ZOOM"

	// TypeError tags the reply to a request the worker does not understand.
	TypeError Type = "ERROR"
)

// SuccessType returns the reply tag for a successful request of type t.
func (t Type) SuccessType() string { return string(t) + "_SUCCESS" }

// ErrorType returns the reply tag for a failed request of type t.
func (t Type) ErrorType() string { return string(t) + "_ERROR" }

// Request is one of LoadRequest, GetClustersRequest, GetChildrenRequest,
// GetClusterExpansionZoomRequest, InvalidRequest or UnknownRequest.
type Request interface {
	Type() Type
	isRequest()
}

type LoadRequest struct {
	Points []domain.StationPoint `json:"points"`
}

type GetClustersRequest struct {
	BBox [4]float64 `json:"bbox"`
	Zoom float64    `json:"zoom"`
}

type GetChildrenRequest struct {
	ClusterID int `json:"clusterId"`
}

type GetClusterExpansionZoomRequest struct {
	ClusterID int `json:"clusterId"`
}

// UnknownRequest carries a tag outside the protocol. The worker answers it
// with an ERROR reply.
type UnknownRequest struct {
	Tag string `json:"-"`
}

// InvalidRequest stands in for a frame whose payload could not be decoded.
// Kind is the recognised tag, or TypeError when the frame itself was
// unreadable. The worker answers it in-band so the reply keeps its place in
// the request order.
type InvalidRequest struct {
	Kind Type  `json:"-"`
	Err  error `json:"-"`
}

func (LoadRequest) Type() Type                    { return TypeLoad }
func (GetClustersRequest) Type() Type             { return TypeGetClusters }
func (GetChildrenRequest) Type() Type             { return TypeGetChildren }
func (GetClusterExpansionZoomRequest) Type() Type { return TypeGetClusterExpansionZoom }
func (r InvalidRequest) Type() Type               { return r.Kind }
func (r UnknownRequest) Type() Type               { return Type(r.Tag) }

func (LoadRequest) isRequest()                    {}
func (GetClustersRequest) isRequest()             {}
func (GetChildrenRequest) isRequest()             {}
func (GetClusterExpansionZoomRequest) isRequest() {}
func (InvalidRequest) isRequest()                 {}
func (UnknownRequest) isRequest()                 {}

// Response is one of LoadSuccess, ClustersSuccess, ChildrenSuccess,
// ExpansionZoomSuccess or ErrorResponse.
type Response interface {
	// Tag is the wire tag, e.g. "GET_CLUSTERS_SUCCESS".
	Tag() string
	// Err is nil for success responses.
	Err() error
	isResponse()
}

type LoadSuccess struct {
	Loaded bool `json:"loaded"`
}

type ClustersSuccess struct {
	Clusters []domain.ClusterFeature `json:"clusters"`
}

type ChildrenSuccess struct {
	Children []domain.ClusterFeature `json:"children"`
}

type ExpansionZoomSuccess struct {
	ExpansionZoom int `json:"expansionZoom"`
}

// ErrorResponse reports a failed request. Request is the type of the
// request that failed, or TypeError when the tag was not recognised.
type ErrorResponse struct {
	Request Type   `json:"-"`
	Message string `json:"error"`
	cause   error
}

func (LoadSuccess) Tag() string          { return TypeLoad.SuccessType() }
func (ClustersSuccess) Tag() string      { return TypeGetClusters.SuccessType() }
func (ChildrenSuccess) Tag() string      { return TypeGetChildren.SuccessType() }
func (ExpansionZoomSuccess) Tag() string { return TypeGetClusterExpansionZoom.SuccessType() }
func (r ErrorResponse) Tag() string {
	if r.Request == TypeError {
		return string(TypeError)
	}
	return r.Request.ErrorType()
}

func (LoadSuccess) Err() error          { return nil }
func (ClustersSuccess) Err() error      { return nil }
func (ChildrenSuccess) Err() error      { return nil }
func (ExpansionZoomSuccess) Err() error { return nil }
func (r ErrorResponse) Err() error {
	if r.cause != nil {
		return r.cause
	}
	return errors.New(r.Message)
}

func (LoadSuccess) isResponse()          {}
func (ClustersSuccess) isResponse()      {}
func (ChildrenSuccess) isResponse()      {}
func (ExpansionZoomSuccess) isResponse() {}
func (ErrorResponse) isResponse()        {}

// NewErrorResponse builds the error reply for a request of type t.
func NewErrorResponse(t Type, err error) ErrorResponse {
	return ErrorResponse{Request: t, Message: err.Error(), cause: err}
}

// Envelope pairs a request with the id its reply will carry.
type Envelope struct {
	ID      uint64
	Request Request
}

// Reply pairs a response with the id of the request it answers.
type Reply struct {
	ID       uint64
	Response Response
}
