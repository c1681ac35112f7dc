package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// TopicInfo documents a registered bus topic.
type TopicInfo struct {
	Name          string   `json:"name"`
	Module        string   `json:"module"`
	Description   string   `json:"description"`
	TypeName      string   `json:"type_name"`
	PayloadFields []string `json:"payload_fields"`
}

var (
	topicsMu sync.RWMutex
	topics   = map[string]TopicInfo{}
)

// Event[T] wraps a topic name and provides type-safe publishing.
type Event[T any] struct {
	topicName string
}

// NewEvent creates a typed event and registers its documentation.
// Field names are taken from the json tags of T. Registering the same name
// twice panics, since events are declared at package level.
func NewEvent[T any](name string, description string) Event[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	var fields []string
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			tag := t.Field(i).Tag.Get("json")
			if tag == "" || tag == "-" {
				continue
			}
			fieldName, _, _ := strings.Cut(tag, ",")
			fields = append(fields, fieldName)
		}
	}

	module, _, _ := strings.Cut(name, ".")
	info := TopicInfo{
		Name:          name,
		Module:        module,
		Description:   description,
		TypeName:      t.Name(),
		PayloadFields: fields,
	}

	topicsMu.Lock()
	defer topicsMu.Unlock()
	if _, exists := topics[name]; exists {
		panic(fmt.Sprintf("pubsub: topic %q registered twice", name))
	}
	topics[name] = info

	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Topics lists every registered topic sorted by name.
func Topics() []TopicInfo {
	topicsMu.RLock()
	defer topicsMu.RUnlock()

	list := make([]TopicInfo, 0, len(topics))
	for _, info := range topics {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// PublishOption sets transport fields on a typed publish.
type PublishOption func(*Message)

// WithUserID sets the user whose session produced the event.
func WithUserID(userID string) PublishOption {
	return func(m *Message) {
		m.UserID = userID
	}
}

// WithMetadata adds one metadata entry.
func WithMetadata(key, value string) PublishOption {
	return func(m *Message) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string)
		}
		m.Metadata[key] = value
	}
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], payload T, opts ...PublishOption) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Name(), err)
	}
	msg := Message{
		Topic:   event.Name(),
		Payload: data,
	}
	for _, opt := range opts {
		opt(&msg)
	}
	return p.Publish(ctx, msg)
}

// Subscribe decodes each message on the event's topic into T before calling fn.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], fn func(context.Context, T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Name(), err)
		}
		return fn(ctx, payload)
	})
}
