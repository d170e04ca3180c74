package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestHub_SendAndBroadcast(t *testing.T) {
	h := NewHub(4, quietLogger())
	qa := h.add("a", nil)
	qb := h.add("b", nil)
	assert.Equal(t, 2, h.Len())

	require.NoError(t, h.Send("a", "user_data", UserData{Name: "alice", Score: 2}))
	assert.JSONEq(t, `{"event":"user_data","data":{"name":"alice","score":2}}`, string(<-qa))

	assert.Equal(t, 2, h.Broadcast("leaderboard", []int{}))
	assert.JSONEq(t, `{"event":"leaderboard","data":[]}`, string(<-qa))
	assert.JSONEq(t, `{"event":"leaderboard","data":[]}`, string(<-qb))

	assert.ErrorIs(t, h.Send("zzz", "x", nil), ErrUnknownConnection)
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := NewHub(2, quietLogger())
	q := h.add("a", nil)

	assert.Equal(t, 1, h.Broadcast("tick", 1))
	assert.Equal(t, 1, h.Broadcast("tick", 2))
	assert.Equal(t, 0, h.Broadcast("tick", 3), "third frame is dropped")
	require.NoError(t, h.Send("a", "tick", 4), "Send drops silently")

	assert.Len(t, q, 2)
}

func TestHub_RemoveClosesQueue(t *testing.T) {
	h := NewHub(0, nil)
	q := h.add("a", nil)
	h.remove("a")
	h.remove("a")

	_, open := <-q
	assert.False(t, open)
	assert.Zero(t, h.Len())
	assert.Zero(t, h.Broadcast("tick", 1))
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(0, nil)
	c1, c2 := &closeCounter{}, &closeCounter{}
	h.add("a", c1)
	h.add("b", c2)
	h.add("c", nil)

	h.CloseAll()
	assert.Equal(t, 1, c1.n)
	assert.Equal(t, 1, c2.n)
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		event   string
		payload map[string]any
		err     error
	}{
		{"bare", `{"event":"increment"}`, "increment", nil, nil},
		{"null data", `{"event":"increment","data":null}`, "increment", nil, nil},
		{"object", `{"event":"click","data":{"x":3}}`, "click", map[string]any{"x": json.Number("3")}, nil},
		{"array data", `{"event":"click","data":[1]}`, "click", nil, errInvalidData},
		{"string data", `{"event":"click","data":"hi"}`, "click", nil, errInvalidData},
		{"no event", `{"data":{}}`, "", nil, errInvalidFrame},
		{"not json", `increment`, "", nil, errInvalidFrame},
		{"array", `[]`, "", nil, errInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, payload, err := decodeFrame([]byte(tt.msg))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
