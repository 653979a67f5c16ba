package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"#", "anything/at/all", true},
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/x/c", true},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"a/#", "b/c", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"a/b/c", "a/b", false},
		{"+", "a", true},
		{"+", "a/b", false},
	}

	for _, tc := range cases {
		t.Run(tc.filter+" "+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchTopic(tc.filter, tc.topic))
		})
	}
}

func TestTopicFilter(t *testing.T) {
	t.Run("empty filter allows everything", func(t *testing.T) {
		f := NewTopicFilter(nil, []string{" ", ""})
		assert.True(t, f.Empty())
		assert.True(t, f.Allowed("any/topic"))
	})

	t.Run("deny wins over allow", func(t *testing.T) {
		f := NewTopicFilter([]string{"devices/#"}, []string{"devices/+/firmware"})

		assert.True(t, f.Allowed("devices/1/cmd"))
		assert.False(t, f.Allowed("devices/1/firmware"))
		assert.False(t, f.Allowed("other/topic"))
	})
}

func TestFilteringInterceptor(t *testing.T) {
	next := &mockPublisher{}
	next.On("Publish", mock.Anything, "devices/1/cmd", mock.Anything).Return(nil).Once()

	i := NewFilteringInterceptor(NewTopicFilter(nil, []string{"$SYS/#"}))

	assert.NoError(t, i.Intercept(context.Background(), Message{Topic: "devices/1/cmd"}, next))
	assert.ErrorIs(t, i.Intercept(context.Background(), Message{Topic: "$SYS/broker"}, next), ErrTopicDenied)
	next.AssertExpectations(t)
}

func TestPayloadLimitInterceptor(t *testing.T) {
	next := &mockPublisher{}
	next.On("Publish", mock.Anything, "a", mock.Anything).Return(nil).Twice()

	assert.NoError(t, NewPayloadLimitInterceptor(4).Intercept(context.Background(), Message{Topic: "a", Payload: []byte("1234")}, next))
	assert.ErrorIs(t,
		NewPayloadLimitInterceptor(4).Intercept(context.Background(), Message{Topic: "a", Payload: []byte("12345")}, next),
		ErrPayloadTooLarge)
	assert.NoError(t, NewPayloadLimitInterceptor(0).Intercept(context.Background(), Message{Topic: "a", Payload: make([]byte, 1<<20)}, next))
	next.AssertExpectations(t)
}
