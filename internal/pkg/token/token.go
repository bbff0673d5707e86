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

// Package token builds and verifies the signed, time-limited payloads carried
// by approval URLs. The payload is base64url-encoded JSON with a detached
// hex HMAC-SHA256 signature over the encoded form.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Verification failures deliberately map to the same HTTP status upstream so
// callers cannot distinguish which check failed.
var (
	ErrBadSignature = errors.New("token: signature mismatch")
	ErrExpired      = errors.New("token: expired")
	ErrMismatch     = errors.New("token: execId mismatch")
)

// Payload is the signed approval token body. Exp is unix seconds.
type Payload struct {
	ExecID           string            `json:"exec_id"`
	SchemaID         string            `json:"id"`
	Exp              int64             `json:"exp"`
	ResourceInfo     map[string]string `json:"resource_info,omitempty"`
	RoutingInfo      map[string]string `json:"routing_info,omitempty"`
	WorkerCapability string            `json:"worker,omitempty"`
	CallbackKey      string            `json:"callback_key,omitempty"`
}

// Codec signs and verifies payloads with a shared secret.
type Codec struct {
	secret []byte
}

// NewCodec returns a codec for secret. An empty secret falls back to a
// well-known development value.
func NewCodec(secret string) *Codec {
	if secret == "" {
		secret = "default"
	}
	return &Codec{secret: []byte(secret)}
}

// Encode serializes p and returns the encoded payload plus its signature.
func (c *Codec) Encode(p Payload) (payload, sig string, err error) {
	raw, err := sonic.Marshal(p)
	if err != nil {
		return "", "", errors.Wrap(err, "marshal token payload")
	}
	payload = base64.RawURLEncoding.EncodeToString(raw)
	return payload, c.sign(payload), nil
}

// Decode verifies sig against payload, decodes it, and enforces expiry and
// the execId route binding. All checks must pass before any field is trusted.
func (c *Codec) Decode(payload, sig, wantExecID string, now time.Time) (Payload, error) {
	if !hmac.Equal([]byte(c.sign(payload)), []byte(sig)) {
		return Payload{}, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Payload{}, ErrBadSignature
	}
	var p Payload
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrBadSignature
	}

	if now.Unix() > p.Exp {
		return Payload{}, ErrExpired
	}
	if wantExecID != "" && p.ExecID != wantExecID {
		return Payload{}, ErrMismatch
	}
	return p, nil
}

func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
