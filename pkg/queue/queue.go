// Copyright 2025 Cloudo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides a durable queue on top of redis lists. Delivery is
// at-least-once and order across producers is not guaranteed.
package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when no message arrived within the wait.
var ErrEmpty = errors.New("queue: empty")

// Conf defines redis connection settings.
type Conf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SetDefaults fills unset fields with defaults.
func (c *Conf) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "cloudo"
	}
}

// IQueue is the durable queue capability used by the dispatcher and workers.
type IQueue interface {
	Enqueue(ctx context.Context, queue string, payload []byte) error
	Dequeue(ctx context.Context, queue string, wait time.Duration) ([]byte, error)
	Close() error
}

type redisQueue struct {
	client *redis.Client
	prefix string
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Conf) (IQueue, error) {
	cfg.SetDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	return &redisQueue{client: client, prefix: cfg.Prefix}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, prefix string) IQueue {
	if prefix == "" {
		prefix = "cloudo"
	}
	return &redisQueue{client: client, prefix: prefix}
}

func (q *redisQueue) key(queue string) string {
	return q.prefix + ":queue:" + queue
}

func (q *redisQueue) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if err := q.client.LPush(ctx, q.key(queue), payload).Err(); err != nil {
		return errors.Wrapf(err, "enqueue to %s", queue)
	}
	return nil
}

// Dequeue blocks up to wait for the next message. A zero wait blocks until a
// message arrives or ctx is cancelled.
func (q *redisQueue) Dequeue(ctx context.Context, queue string, wait time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, wait, q.key(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, errors.Wrapf(err, "dequeue from %s", queue)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, errors.Errorf("dequeue from %s: unexpected reply of %d elements", queue, len(res))
	}
	return []byte(res[1]), nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
