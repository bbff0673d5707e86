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

// Package schedule evaluates cron expressions as an explicit predicate, kept
// separate from the timers that poll it so matching is testable on its own.
package schedule

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
)

// Due reports whether instant (at second granularity) matches the six-field
// cron expression expr.
func Due(expr string, instant time.Time) (bool, error) {
	sched, err := cron.Parse(expr)
	if err != nil {
		return false, errors.Wrapf(err, "parse cron %q", expr)
	}
	at := instant.Truncate(time.Second)
	return sched.Next(at.Add(-time.Second)).Equal(at), nil
}

// Ticker invokes fn whenever expr becomes due, checking once per interval.
// It stops when the done channel closes.
func Ticker(expr string, interval time.Duration, done <-chan struct{}, fn func(now time.Time)) error {
	if _, err := cron.Parse(expr); err != nil {
		return errors.Wrapf(err, "parse cron %q", expr)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				ok, err := Due(expr, now)
				if err != nil {
					return
				}
				if ok {
					fn(now)
				}
			}
		}
	}()
	return nil
}
