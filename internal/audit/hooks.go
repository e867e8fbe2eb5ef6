// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package audit

import (
	"context"
	"time"

	"github.com/esnode-project/esnode-agent/internal/elog"
)

type ctxKey string

const beginKey ctxKey = "begin"

// queryHooks satisfies sqlhooks.Hooks, logging query duration for the
// audit log's sqlite connection.
type queryHooks struct{}

func (queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	elog.Debugf("audit: query %s %q", query, args)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

func (queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		elog.Debugf("audit: query took %s", time.Since(begin))
	}
	return ctx, nil
}
