package cluster

import (
	"fmt"
	"strings"
)

// Result values carried in the "result" field of every JSON response.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Well-known worker routes.
const (
	PingPath            = "/ping"
	PingAck             = "pong"
	DefaultDispatchPath = "/convert"
	FilenameParam       = "filename"
)

// MessageNotAvailable is returned by /target when no endpoint is registered.
const MessageNotAvailable = "Not available service"

// Endpoint is a named, addressable worker.
type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type RegisterRequest struct {
	Name string `json:"name" validate:"required"`
	URL  string `json:"url" validate:"required"`
}

type UnregisterRequest struct {
	Name string `json:"name" validate:"required"`
}

// Response is the common {result, message} envelope.
type Response struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

func (r Response) OK() bool {
	return r.Result == ResultSuccess
}

type TargetResponse struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (r TargetResponse) OK() bool {
	return r.Result == ResultSuccess && r.URL != ""
}

type PingResponse struct {
	Result string `json:"result"`
	Ping   string `json:"ping"`
}

// Alive reports whether the body carries the liveness acknowledgment.
func (r PingResponse) Alive() bool {
	return r.Result == ResultSuccess && r.Ping == PingAck
}

// BaseURL turns an endpoint address into an http base URL.
// Both "http://host:port" and bare "host:port" forms are accepted.
func BaseURL(addr string) string {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	return strings.TrimRight(url, "/")
}
