package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRequest(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Request
	}{
		{"cache", `{"type":"CACHE_VIDEO","url":"http://v.local/a.mp4"}`, CacheVideo{URL: "http://v.local/a.mp4"}},
		{"remove", `{"type":"REMOVE_VIDEO_CACHE","url":"http://v.local/a.mp4"}`, RemoveVideoCache{URL: "http://v.local/a.mp4"}},
		{"list", `{"type":"GET_CACHED_VIDEOS"}`, GetCachedVideos{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalRequest([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalRequestRejectsUnknownType(t *testing.T) {
	_, err := UnmarshalRequest([]byte(`{"type":"SKIP_WAITING"}`))
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = UnmarshalRequest([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestUnmarshalRequestRequiresURL(t *testing.T) {
	_, err := UnmarshalRequest([]byte(`{"type":"CACHE_VIDEO","url":"  "}`))
	assert.True(t, errors.Is(err, ErrMissingURL))

	_, err = UnmarshalRequest([]byte(`{"type":"REMOVE_VIDEO_CACHE"}`))
	assert.True(t, errors.Is(err, ErrMissingURL))
}

func TestUnmarshalRequestInvalidJSON(t *testing.T) {
	_, err := UnmarshalRequest([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestMarshalRequestWireShape(t *testing.T) {
	data, err := MarshalRequest(GetCachedVideos{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"GET_CACHED_VIDEOS"}`, string(data))

	data, err = MarshalRequest(CacheVideo{URL: "http://v.local/a.mp4"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CACHE_VIDEO","url":"http://v.local/a.mp4"}`, string(data))
}

func TestReplyWireShape(t *testing.T) {
	data, err := json.Marshal(SuccessReply(false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false}`, string(data))

	data, err = json.Marshal(VideosReply(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"videos":[]}`, string(data))

	data, err = json.Marshal(DefaultReply(GetCachedVideos{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"videos":[]}`, string(data))

	data, err = json.Marshal(Reply{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	var empty Reply
	require.NoError(t, json.Unmarshal([]byte(`{"videos":[]}`), &empty))
	assert.NotNil(t, empty.Videos)
	assert.Nil(t, empty.Success)

	var reply Reply
	require.NoError(t, json.Unmarshal([]byte(`{"videos":["a","b"]}`), &reply))
	assert.Equal(t, []string{"a", "b"}, reply.CachedVideos())
	assert.False(t, reply.Succeeded())
}

func TestDefaultReply(t *testing.T) {
	assert.False(t, DefaultReply(CacheVideo{URL: "x"}).Succeeded())
	assert.False(t, DefaultReply(RemoveVideoCache{URL: "x"}).Succeeded())
	assert.Equal(t, []string{}, DefaultReply(GetCachedVideos{}).CachedVideos())
}

func TestPortKeepsFirstReply(t *testing.T) {
	port := NewPort()

	assert.True(t, port.Post(SuccessReply(true)))
	assert.False(t, port.Post(SuccessReply(false)))

	reply := <-port
	assert.True(t, reply.Succeeded())
}

func TestPortAwaitReply(t *testing.T) {
	port := NewPort()
	port.Post(SuccessReply(true))

	reply, ok := port.Await(context.Background(), CacheVideo{URL: "http://v.local/a.mp4"})
	assert.True(t, ok)
	assert.True(t, reply.Succeeded())
}

func TestPortAwaitDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	port := NewPort()
	reply, ok := port.Await(ctx, GetCachedVideos{})
	assert.False(t, ok)
	assert.Equal(t, []string{}, reply.CachedVideos())

	// A late reply lands in the buffer and is never read.
	assert.True(t, port.Post(VideosReply([]string{"http://v.local/a.mp4"})))
}
