package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/romanesko/http-mqtt-bridge/messaging"
)

var (
	// ErrTopicDenied is returned when the topic filter rejects a publish
	ErrTopicDenied = errors.New("topic is not allowed")
	// ErrPayloadTooLarge is returned when a payload exceeds the size limit
	ErrPayloadTooLarge = errors.New("payload too large")
)

// MatchTopic reports whether topic matches an MQTT topic filter.
// '+' matches exactly one level and a trailing '#' matches any remainder,
// including the parent level itself.
func MatchTopic(filter, topic string) bool {
	if filter == messaging.WildcardTopic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// TopicFilter decides which topics may be published to. Deny filters win
// over allow filters; with no allow filters every topic not denied passes.
type TopicFilter struct {
	allow []string
	deny  []string
}

// NewTopicFilter creates a topic filter from MQTT topic filters
func NewTopicFilter(allow, deny []string) *TopicFilter {
	return &TopicFilter{allow: compact(allow), deny: compact(deny)}
}

// Allowed reports whether topic passes the filter
func (f *TopicFilter) Allowed(topic string) bool {
	for _, filter := range f.deny {
		if MatchTopic(filter, topic) {
			return false
		}
	}

	if len(f.allow) == 0 {
		return true
	}
	for _, filter := range f.allow {
		if MatchTopic(filter, topic) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter lets every topic through
func (f *TopicFilter) Empty() bool {
	return len(f.allow) == 0 && len(f.deny) == 0
}

// FilteringInterceptor rejects publishes to topics the filter does not allow
type FilteringInterceptor struct {
	filter *TopicFilter
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter *TopicFilter) *FilteringInterceptor {
	return &FilteringInterceptor{filter: filter}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, msg Message, next messaging.Publisher) error {
	if !i.filter.Allowed(msg.Topic) {
		return fmt.Errorf("%w: %q", ErrTopicDenied, msg.Topic)
	}
	return next.Publish(ctx, msg.Topic, msg.Payload)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// PayloadLimitInterceptor rejects payloads larger than a byte limit
type PayloadLimitInterceptor struct {
	limit int
}

// NewPayloadLimitInterceptor creates a new payload limit interceptor
func NewPayloadLimitInterceptor(limit int) *PayloadLimitInterceptor {
	return &PayloadLimitInterceptor{limit: limit}
}

// Intercept implements Interceptor
func (i *PayloadLimitInterceptor) Intercept(ctx context.Context, msg Message, next messaging.Publisher) error {
	if i.limit > 0 && len(msg.Payload) > i.limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(msg.Payload), i.limit)
	}
	return next.Publish(ctx, msg.Topic, msg.Payload)
}

// Name implements Interceptor
func (i *PayloadLimitInterceptor) Name() string {
	return "PayloadLimitInterceptor"
}

func compact(filters []string) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
