package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/openviking/openviking/pkg/status"
	"github.com/openviking/openviking/pkg/uri"
)

// maxBodySize caps request bodies; pack imports go through file paths,
// not uploads, so nothing legitimate approaches this.
const maxBodySize = 10 << 20

// envelope is the uniform response shape.
type envelope struct {
	Status string         `json:"status"`
	Result any            `json:"result,omitempty"`
	Error  *envelopeError `json:"error,omitempty"`
	Time   int64          `json:"time"`
}

type envelopeError struct {
	Code    status.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{
		Status: "ok",
		Result: result,
		Time:   time.Now().UnixMilli(),
	})
}

func writeError(w http.ResponseWriter, err error) {
	se := status.FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status.HTTPStatus(se.Code))
	_ = json.NewEncoder(w).Encode(envelope{
		Status: "error",
		Error:  &envelopeError{Code: se.Code, Message: se.Message, Details: se.Details},
		Time:   time.Now().UnixMilli(),
	})
}

// decodeBody parses a JSON request body into out. An empty body is
// allowed and leaves out at its zero value.
func decodeBody(r *http.Request, out any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return status.InvalidArgument("read request body: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.InvalidArgument("malformed request body: %v", err)
	}
	return nil
}

// queryURI parses the uri query parameter, required.
func queryURI(r *http.Request) (uri.URI, error) {
	raw := r.URL.Query().Get("uri")
	if raw == "" {
		return uri.URI{}, status.InvalidArgument("uri query parameter is required")
	}
	return uri.Parse(raw)
}

// parseOptionalURI parses a URI field that may be empty.
func parseOptionalURI(raw string) (uri.URI, error) {
	if raw == "" {
		return uri.URI{}, nil
	}
	return uri.Parse(raw)
}
