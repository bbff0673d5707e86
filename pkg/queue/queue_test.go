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

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) IQueue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "cloudo")
}

func TestEnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "jobs-k8s", []byte(`{"exec_id":"a"}`)))
	require.NoError(t, q.Enqueue(ctx, "jobs-k8s", []byte(`{"exec_id":"b"}`)))

	got, err := q.Dequeue(ctx, "jobs-k8s", time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"exec_id":"a"}`, string(got))

	got, err = q.Dequeue(ctx, "jobs-k8s", time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"exec_id":"b"}`, string(got))
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Dequeue(context.Background(), "jobs-k8s", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueueIsolation(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "jobs-k8s", []byte("x")))

	_, err := q.Dequeue(ctx, "jobs-vm", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)

	got, err := q.Dequeue(ctx, "jobs-k8s", time.Second)
	require.NoError(t, err)
	require.Equal(t, "x", string(got))
}
