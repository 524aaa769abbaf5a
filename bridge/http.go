package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"goji.io"
	"goji.io/pat"
)

const (
	// UpdateRawPath is where frames are submitted.
	UpdateRawPath = "/update_raw"

	// maxBodySize leaves room for a JSON array of 65535 three-digit bytes.
	maxBodySize = 1 << 20
)

// Payload is a byte slice encoded in JSON as an array of integers 0-255.
type Payload []byte

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return errors.Wrap(err, "raw data must be an array of bytes")
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return errors.Errorf("raw data element %d is %d, not a byte", i, v)
		}
		out[i] = byte(v)
	}
	*p = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	values := make([]int, len(p))
	for i, b := range p {
		values[i] = int(b)
	}
	return json.Marshal(values)
}

// Request is the body of POST /update_raw. The frame may be sent as either
// raw or raw_data, not both.
type Request struct {
	Raw     *Payload `json:"raw,omitempty"`
	RawData *Payload `json:"raw_data,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. Field names match exactly, and
// the frame field may appear only once under either name. Other fields are
// ignored.
func (r *Request) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if tok != json.Delim('{') {
		return errors.New("request must be a JSON object")
	}

	var out Request
	seen := false
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var dst **Payload
		switch key {
		case "raw":
			dst = &out.Raw
		case "raw_data":
			dst = &out.RawData
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		if seen {
			return errors.New("duplicate field `raw`")
		}
		seen = true
		if err := dec.Decode(dst); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}

// Frame returns the submitted bytes.
func (r Request) Frame() ([]byte, error) {
	switch {
	case r.Raw != nil && r.RawData != nil:
		return nil, errors.New("duplicate field `raw`")
	case r.Raw != nil:
		return *r.Raw, nil
	case r.RawData != nil:
		return *r.RawData, nil
	default:
		return nil, errors.New("missing field `raw`")
	}
}

// NewHandler routes POST /update_raw to e.
func NewHandler(e *Endpoint, logger golog.Logger) *goji.Mux {
	mux := goji.NewMux()
	mux.Handle(pat.Post(UpdateRawPath), &updateRawHandler{endpoint: e, logger: logger})
	return mux
}

type updateRawHandler struct {
	endpoint *Endpoint
	logger   golog.Logger
}

func (h *updateRawHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.reject(w, r, errors.Wrap(err, "invalid request body"))
		return
	}
	frame, err := req.Frame()
	if err != nil {
		h.reject(w, r, errors.Wrap(err, "invalid request body"))
		return
	}

	h.logger.Debugw("frame submitted", "remote", r.RemoteAddr, "bytes", len(frame))
	h.respond(w, http.StatusOK, h.endpoint.Submit(r.Context(), frame))
}

func (h *updateRawHandler) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Errorw("rejecting request", "remote", r.RemoteAddr, "error", err)
	h.respond(w, http.StatusBadRequest, Failure(err.Error()))
}

func (h *updateRawHandler) respond(w http.ResponseWriter, status int, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Debugw("failed to write response", "error", err)
	}
}
