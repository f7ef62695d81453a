// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/redis/go-redis/v9"

	"github.com/cloakmsg/cloak"
)

var _ cloak.Ledger = (*Redis)(nil)

const (
	redisKeyPrefix     = "cloak:"
	redisEventsChannel = redisKeyPrefix + "events"
)

// Redis is a Redis-backed ledger. Boxes are RLP-encoded list entries, so
// append-only index-stable semantics fall directly out of RPUSH/LLEN/LINDEX.
// Append notifications are published on a pub/sub channel. Transport
// failures surface as ErrBackendUnavailable; retrying an append after a lost
// response may double-send, which is the caller's documented gap.
type Redis struct {
	log    log.Logger
	client *redis.Client
	now    func() time.Time
}

// NewRedis wraps an existing client.
func NewRedis(logger log.Logger, client *redis.Client) *Redis {
	return &Redis{
		log:    logger,
		client: client,
		now:    time.Now,
	}
}

// Append validates addressing, pushes the record onto both boxes in one
// transactional pipeline, and publishes the notification event.
func (r *Redis) Append(ctx context.Context, sender, recipient common.Address, handle ids.ID) (*cloak.MessageRecord, error) {
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", cloak.ErrInvalidRecipient)
	}
	if recipient == sender {
		return nil, fmt.Errorf("%w: %s", cloak.ErrSelfMessage, sender)
	}

	record := cloak.MessageRecord{
		Sender:    sender,
		Recipient: recipient,
		Handle:    handle,
		Timestamp: uint64(r.now().Unix()),
	}
	blob, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, boxKey(recipient, cloak.Inbox), blob)
	pipe.RPush(ctx, boxKey(sender, cloak.Outbox), blob)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: append pipeline: %v", cloak.ErrBackendUnavailable, err)
	}

	ev := cloak.MessageSentEvent{
		From:      sender,
		To:        recipient,
		Timestamp: record.Timestamp,
	}
	evBlob, err := rlp.EncodeToBytes(&ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, redisEventsChannel, evBlob).Err(); err != nil {
		// The record is durable; a lost notification is not a failed append.
		r.log.Debug("event publish failed", log.Err(err))
	}

	return &record, nil
}

// Count returns the length of the identity's box.
func (r *Redis) Count(ctx context.Context, identity common.Address, box cloak.Box) (uint64, error) {
	n, err := r.client.LLen(ctx, boxKey(identity, box)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", cloak.ErrBackendUnavailable, err)
	}
	return uint64(n), nil
}

// ReadAt returns the record at index.
func (r *Redis) ReadAt(ctx context.Context, identity common.Address, box cloak.Box, index uint64) (*cloak.MessageRecord, error) {
	blob, err := r.client.LIndex(ctx, boxKey(identity, box), int64(index)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: index %d", cloak.ErrIndexOutOfBounds, index)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: readAt: %v", cloak.ErrBackendUnavailable, err)
	}

	record := &cloak.MessageRecord{}
	if err := rlp.DecodeBytes(blob, record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return record, nil
}

// ListHandles returns a snapshot of the identity's inbox handles in
// insertion order.
func (r *Redis) ListHandles(ctx context.Context, identity common.Address) ([]ids.ID, error) {
	blobs, err := r.client.LRange(ctx, boxKey(identity, cloak.Inbox), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: listHandles: %v", cloak.ErrBackendUnavailable, err)
	}

	handles := make([]ids.ID, 0, len(blobs))
	for _, blob := range blobs {
		record := &cloak.MessageRecord{}
		if err := rlp.DecodeBytes([]byte(blob), record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		handles = append(handles, record.Handle)
	}
	return handles, nil
}

// SubscribeEvents delivers append notifications until ctx is done or the
// returned closer is called.
func (r *Redis) SubscribeEvents(ctx context.Context) (<-chan cloak.MessageSentEvent, func() error, error) {
	pubsub := r.client.Subscribe(ctx, redisEventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: subscribe: %v", cloak.ErrBackendUnavailable, err)
	}

	out := make(chan cloak.MessageSentEvent)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			ev := cloak.MessageSentEvent{}
			if err := rlp.DecodeBytes([]byte(msg.Payload), &ev); err != nil {
				r.log.Debug("dropping undecodable event", log.Err(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}

func boxKey(identity common.Address, box cloak.Box) string {
	return redisKeyPrefix + box.String() + ":" + strings.ToLower(identity.Hex())
}
