// Package events publishes committed resolutions to presentation layers
// over watermill. Each audience gets its own topic so a subscriber can
// never receive lines it is not entitled to.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

// Topics, one per audience.
const (
	TopicPublic    = "rounds.resolved.public"
	TopicModerator = "rounds.resolved.moderator"
	TopicPrivate   = "rounds.resolved.private"
)

// Metadata keys set on every message.
const (
	MetadataMatchID   = "match_id"
	MetadataRound     = "round"
	MetadataRecipient = "recipient"
)

// ResolvedEvent is the payload of every rounds.resolved.* message. Lines
// hold only the audience's view.
type ResolvedEvent struct {
	ResolutionID string          `json:"resolution_id"`
	MatchID      string          `json:"match_id"`
	Round        int             `json:"round"`
	Ruleset      string          `json:"ruleset"`
	Verdict      verdict.Verdict `json:"verdict"`
	Recipient    int             `json:"recipient,omitempty"`
	Lines        []auditlog.Line `json:"lines"`
	// Terminal carries slot indices only on the moderator topic.
	Terminal []effect.TerminalEvent `json:"terminal,omitempty"`
}

// Publisher fans a resolution out to the audience topics.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher wraps pub.
func NewPublisher(pub message.Publisher) (*Publisher, error) {
	if pub == nil {
		return nil, errors.New("message publisher is required")
	}
	return &Publisher{pub: pub}, nil
}

// NewGoChannel returns an in-process pub/sub. Messages published with no
// subscriber are dropped.
func NewGoChannel(logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewZapLogger(logger))
}

// PublishResolution publishes the public view, the moderator view and one
// private message per recipient.
func (p *Publisher) PublishResolution(ctx context.Context, rec storage.ResolutionRecord) error {
	streams := auditlog.Split(rec.Lines)
	base := ResolvedEvent{
		ResolutionID: rec.ID,
		MatchID:      rec.MatchID,
		Round:        rec.Round,
		Ruleset:      string(rec.Ruleset),
		Verdict:      rec.Verdict,
	}

	public := base
	public.Lines = streams.Public
	public.Terminal = effect.WithoutSlots(rec.Terminal)
	if err := p.publish(ctx, TopicPublic, public); err != nil {
		return err
	}

	moderator := base
	moderator.Lines = streams.Moderator()
	moderator.Terminal = rec.Terminal
	if err := p.publish(ctx, TopicModerator, moderator); err != nil {
		return err
	}

	for _, recipient := range recipients(streams.Private) {
		private := base
		private.Recipient = recipient
		private.Lines = streams.For(recipient)
		private.Terminal = public.Terminal
		if err := p.publish(ctx, TopicPrivate, private); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, ev ResolvedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataMatchID, ev.MatchID)
	msg.Metadata.Set(MetadataRound, strconv.Itoa(ev.Round))
	if ev.Recipient > 0 {
		msg.Metadata.Set(MetadataRecipient, strconv.Itoa(ev.Recipient))
	}
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func recipients(lines []auditlog.Line) []int {
	var out []int
	seen := make(map[int]bool)
	for _, l := range lines {
		if !seen[l.Recipient] {
			seen[l.Recipient] = true
			out = append(out, l.Recipient)
		}
	}
	return out
}

// Decode parses a rounds.resolved.* payload.
func Decode(msg *message.Message) (ResolvedEvent, error) {
	var ev ResolvedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ResolvedEvent{}, fmt.Errorf("decode resolved event %s: %w", msg.UUID, err)
	}
	return ev, nil
}

// Consume reads messages from topic until ctx ends, acking each message the
// handler accepts and nacking the rest.
func Consume(ctx context.Context, sub message.Subscriber, topic string, logger watermill.LoggerAdapter, handle func(context.Context, ResolvedEvent) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := Decode(msg)
				if err != nil {
					// A payload that cannot decode would be redelivered forever.
					logger.Error("drop resolved event", err, watermill.LogFields{"topic": topic, "message_id": msg.UUID})
					msg.Ack()
					continue
				}
				if err := handle(ctx, ev); err != nil {
					logger.Error("handle resolved event", err, watermill.LogFields{"topic": topic, "message_id": msg.UUID})
					msg.Nack()
					continue
				}
				msg.Ack()
			}
		}
	}()
	return nil
}
