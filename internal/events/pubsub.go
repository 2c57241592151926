// Package events publishes trip lifecycle messages over Watermill and fans
// them out to live listeners.
package events

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

// TopicTripCompleted carries one message per stored trip.
const TopicTripCompleted = "trip.completed"

// PubSub bundles a publisher and subscriber on the same transport.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

// Close shuts down both sides.
func (p *PubSub) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewPubSub returns Redis Streams transport when client is non-nil, and an
// in-process channel otherwise.
func NewPubSub(client redis.UniversalClient, logger *slog.Logger) (*PubSub, error) {
	wlog := watermill.NewSlogLogger(logger)

	if client == nil {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wlog)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil
	}

	marshaller := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("create redis publisher: %w", err)
	}

	// No consumer group: every server instance reads every message.
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:       client,
		Unmarshaller: marshaller,
	}, wlog)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create redis subscriber: %w", err)
	}

	return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{sub.Close, pub.Close}}, nil
}
