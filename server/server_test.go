package server

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/creastat/kmerge/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type    protocol.OutputMessageType `json:"type"`
	ReplyTo string                     `json:"replyTo"`
	Payload json.RawMessage            `json:"payload"`
}

func dial(t *testing.T, config Config) *websocket.Conn {
	t.Helper()

	s := httptest.NewServer(New(config))
	t.Cleanup(s.Close)

	u := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// readUntil reads frames until one of the given type arrives
func readUntil(t *testing.T, conn *websocket.Conn, want protocol.OutputMessageType) (received, []received) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var seen []received
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s after %d frames", want, len(seen))

		var msg received
		require.NoError(t, json.Unmarshal(data, &msg))
		seen = append(seen, msg)
		if msg.Type == want {
			return msg, seen
		}
	}
}

func TestServerMergesValues(t *testing.T) {
	conn := dial(t, Config{})

	send(t, conn, `{"type":"merge.start","id":"req-1","payload":{"workers":2,"runLength":2,"values":[4,1,3,2]}}`)

	done, seen := readUntil(t, conn, protocol.OutputMergeDone)
	assert.Equal(t, "req-1", done.ReplyTo)

	var payload protocol.MergeDonePayload[int]
	require.NoError(t, json.Unmarshal(done.Payload, &payload))
	assert.Equal(t, 4, payload.Rounds)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}}, payload.Blocks)
	assert.Equal(t, []int{1, 2, 3, 4}, payload.Sorted)

	assert.Equal(t, protocol.OutputMergeStarted, seen[0].Type)
	var rounds, blocks int
	for _, msg := range seen {
		switch msg.Type {
		case protocol.OutputMergeRound:
			rounds++
		case protocol.OutputMergeBlock:
			blocks++
		}
	}
	assert.Equal(t, 4, rounds)
	assert.Equal(t, 2, blocks)
}

func TestServerMergesSeededInput(t *testing.T) {
	conn := dial(t, Config{})

	send(t, conn, `{"type":"merge.start","id":"req-1","payload":{"workers":3,"runLength":4,"seed":7,"maxValue":50}}`)

	done, _ := readUntil(t, conn, protocol.OutputMergeDone)
	var payload protocol.MergeDonePayload[int]
	require.NoError(t, json.Unmarshal(done.Payload, &payload))

	require.Len(t, payload.Sorted, 12)
	for i := 1; i < len(payload.Sorted); i++ {
		assert.LessOrEqual(t, payload.Sorted[i-1], payload.Sorted[i])
	}
	for _, v := range payload.Sorted {
		assert.Less(t, v, 50)
	}
}

func TestServerReportsValidationErrors(t *testing.T) {
	conn := dial(t, Config{})

	send(t, conn, `{"type":"merge.start","id":"req-1","payload":{"workers":0,"runLength":2,"values":[]}}`)

	msg, _ := readUntil(t, conn, protocol.OutputError)
	assert.Equal(t, "req-1", msg.ReplyTo)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.ErrorCodeValidation, payload.Code)
}

func TestServerRejectsOversizedRequests(t *testing.T) {
	conn := dial(t, Config{MaxValues: 10})

	send(t, conn, `{"type":"merge.start","id":"req-1","payload":{"workers":4,"runLength":4,"seed":1}}`)

	msg, _ := readUntil(t, conn, protocol.OutputError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.ErrorCodeValidation, payload.Code)
}

// TestServerRejectsOverflowingShape tests that a shape whose K*N wraps
// around is refused and the session keeps working
func TestServerRejectsOverflowingShape(t *testing.T) {
	conn := dial(t, Config{})

	for i, shape := range []string{
		`"workers":4611686018427387904,"runLength":4`,
		`"workers":4294967296,"runLength":4294967296`,
		`"workers":4,"runLength":4611686018427387904`,
	} {
		send(t, conn, `{"type":"merge.start","id":"req-`+strconv.Itoa(i)+`","payload":{`+shape+`,"seed":1}}`)

		msg, _ := readUntil(t, conn, protocol.OutputError)
		var payload protocol.ErrorPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, protocol.ErrorCodeValidation, payload.Code, shape)
	}

	send(t, conn, `{"type":"merge.start","id":"req-ok","payload":{"workers":2,"runLength":1,"values":[2,1]}}`)
	done, _ := readUntil(t, conn, protocol.OutputMergeDone)
	assert.Equal(t, "req-ok", done.ReplyTo)
}

func TestServerRejectsBadFrames(t *testing.T) {
	conn := dial(t, Config{})

	send(t, conn, `{"type":"input.text"}`)

	msg, _ := readUntil(t, conn, protocol.OutputError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.ErrorCodeBadMessage, payload.Code)

	// The session survives a bad frame.
	send(t, conn, `{"type":"merge.start","id":"req-2","payload":{"workers":1,"runLength":1,"values":[5]}}`)
	done, _ := readUntil(t, conn, protocol.OutputMergeDone)
	assert.Equal(t, "req-2", done.ReplyTo)
}

func TestServerCancel(t *testing.T) {
	conn := dial(t, Config{EventBuffer: 1})

	send(t, conn, `{"type":"merge.start","id":"req-1","payload":{"workers":4,"runLength":50000,"seed":3}}`)
	readUntil(t, conn, protocol.OutputMergeStarted)
	send(t, conn, `{"type":"control.cancel","id":"req-2"}`)

	msg, _ := readUntil(t, conn, protocol.OutputError)
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, protocol.ErrorCodeMerge, payload.Code)
	assert.Contains(t, payload.Message, "canceled")
}
