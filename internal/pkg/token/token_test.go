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

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec := NewCodec("s3cret")
	now := time.Now()

	in := Payload{
		ExecID:           "exec-1",
		SchemaID:         "restart-pods",
		Exp:              now.Add(time.Hour).Unix(),
		WorkerCapability: "k8s",
		RoutingInfo:      map[string]string{"team": "platform"},
	}
	payload, sig, err := codec.Encode(in)
	require.NoError(t, err)

	out, err := codec.Decode(payload, sig, "exec-1", now)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestTamperedPayloadOrSignature(t *testing.T) {
	codec := NewCodec("s3cret")
	now := time.Now()

	payload, sig, err := codec.Encode(Payload{ExecID: "exec-1", Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	// Flip one byte of the payload.
	flipped := []byte(payload)
	flipped[0] ^= 0x01
	_, err = codec.Decode(string(flipped), sig, "exec-1", now)
	require.ErrorIs(t, err, ErrBadSignature)

	// Flip one byte of the signature.
	badSig := []byte(sig)
	if badSig[0] == 'a' {
		badSig[0] = 'b'
	} else {
		badSig[0] = 'a'
	}
	_, err = codec.Decode(payload, string(badSig), "exec-1", now)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestExpiredTokenRejectedDespiteValidSignature(t *testing.T) {
	codec := NewCodec("s3cret")
	now := time.Now()

	payload, sig, err := codec.Encode(Payload{ExecID: "exec-1", Exp: now.Add(-time.Second).Unix()})
	require.NoError(t, err)

	_, err = codec.Decode(payload, sig, "exec-1", now)
	require.ErrorIs(t, err, ErrExpired)
}

func TestExecIDMustMatchRoute(t *testing.T) {
	codec := NewCodec("s3cret")
	now := time.Now()

	payload, sig, err := codec.Encode(Payload{ExecID: "exec-1", Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = codec.Decode(payload, sig, "exec-2", now)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestWrongSecret(t *testing.T) {
	now := time.Now()
	payload, sig, err := NewCodec("one").Encode(Payload{ExecID: "exec-1", Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = NewCodec("two").Decode(payload, sig, "exec-1", now)
	require.ErrorIs(t, err, ErrBadSignature)
}
