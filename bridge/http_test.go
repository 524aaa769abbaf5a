package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"
)

func newTestServer(t *testing.T, c *fakeConn, frameSize int) *httptest.Server {
	t.Helper()
	e, _ := newTestEndpoint(t, c, frameSize)
	srv := httptest.NewServer(NewHandler(e, golog.NewTestLogger(t)))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(srv.URL+UpdateRawPath, "application/json", strings.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Header.Get("Content-Type"), test.ShouldEqual, "application/json")

	var out map[string]interface{}
	test.That(t, json.Unmarshal(raw, &out), test.ShouldBeNil)
	return resp.StatusCode, out
}

func TestUpdateRaw(t *testing.T) {
	c := &fakeConn{}
	srv := newTestServer(t, c, 8)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		want       map[string]interface{}
	}{
		{
			"full frame",
			`{"raw":[1,2,3,4,5,6,7,8]}`,
			http.StatusOK,
			map[string]interface{}{"status": "ok", "bytes_written": 8.0},
		},
		{
			"raw_data alias",
			`{"raw_data":[0,0,0,0,0,0,0,255]}`,
			http.StatusOK,
			map[string]interface{}{"status": "ok", "bytes_written": 8.0},
		},
		{
			"short frame",
			`{"raw":[1,2,3,4,5]}`,
			http.StatusOK,
			map[string]interface{}{"status": "error", "reason": "raw_data is not 8 bytes long"},
		},
		{
			"unknown fields ignored",
			`{"id":3,"raw":[8,7,6,5,4,3,2,1],"meta":{"raw":[1]}}`,
			http.StatusOK,
			map[string]interface{}{"status": "ok", "bytes_written": 8.0},
		},
		{
			"long frame",
			`{"raw_data":[1,2,3,4,5,6,7,8,9]}`,
			http.StatusOK,
			map[string]interface{}{"status": "error", "reason": "raw_data is not 8 bytes long"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, got := post(t, srv, tt.body)
			test.That(t, status, test.ShouldEqual, tt.wantStatus)
			test.That(t, got, test.ShouldResemble, tt.want)
		})
	}

	test.That(t, c.frames, test.ShouldResemble, [][]byte{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{0, 0, 0, 0, 0, 0, 0, 255},
		{8, 7, 6, 5, 4, 3, 2, 1},
	})
}

func TestUpdateRawBadRequest(t *testing.T) {
	c := &fakeConn{}
	srv := newTestServer(t, c, 8)

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"not json", `raw=1`, "invalid request body"},
		{"missing field", `{}`, "missing field `raw`"},
		{"null field", `{"raw":null}`, "missing field `raw`"},
		{"both fields", `{"raw":[1],"raw_data":[1]}`, "duplicate field `raw`"},
		{"repeated field", `{"raw":[1],"raw":[1,2,3,4,5,6,7,8]}`, "duplicate field `raw`"},
		{"repeated alias", `{"raw_data":[1],"raw_data":[1,2,3,4,5,6,7,8]}`, "duplicate field `raw`"},
		{"upper case field", `{"RAW":[1,2,3,4,5,6,7,8]}`, "missing field `raw`"},
		{"mixed case alias", `{"Raw_Data":[1,2,3,4,5,6,7,8]}`, "missing field `raw`"},
		{"array body", `[1,2,3,4,5,6,7,8]`, "request must be a JSON object"},
		{"base64 string", `{"raw":"AAECAwQFBgc="}`, "raw data must be an array of bytes"},
		{"out of range", `{"raw":[1,2,3,4,5,6,7,256]}`, "raw data element 7 is 256, not a byte"},
		{"negative", `{"raw":[-1,2,3,4,5,6,7,8]}`, "raw data element 0 is -1, not a byte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, got := post(t, srv, tt.body)
			test.That(t, status, test.ShouldEqual, http.StatusBadRequest)
			test.That(t, got["status"], test.ShouldEqual, "error")
			test.That(t, got["reason"], test.ShouldContainSubstring, tt.reason)
		})
	}

	test.That(t, c.frames, test.ShouldBeEmpty)
}

func TestUpdateRawMethod(t *testing.T) {
	c := &fakeConn{}
	srv := newTestServer(t, c, 8)

	resp, err := http.Get(srv.URL + UpdateRawPath)
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
	test.That(t, c.frames, test.ShouldBeEmpty)
}

func TestPayloadJSON(t *testing.T) {
	p := Payload{0, 127, 255}
	raw, err := json.Marshal(Request{Raw: &p})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldEqual, `{"raw":[0,127,255]}`)

	var req Request
	test.That(t, json.Unmarshal(raw, &req), test.ShouldBeNil)
	frame, err := req.Frame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldResemble, []byte{0, 127, 255})
}
