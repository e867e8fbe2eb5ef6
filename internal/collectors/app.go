// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"
	"golang.org/x/time/rate"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

const appFetchTimeout = 2 * time.Second

// appTokenCounterNames is the allow-list of application-exposed counter
// names this collector recognises. This would ideally be configuration
// rather than code; esnode-agent ships the same default set the
// original source hard-coded.
var appTokenCounterNames = map[string]struct{}{
	"vllm:generation_tokens_total": {},
	"vllm:prompt_tokens_total":     {},
	"tgi_generated_tokens":         {},
	"model_tokens_total":           {},
}

// AppCollector scrapes a Prometheus-format endpoint exposed by the
// workload and derives a tokens-per-second and tokens-per-watt gauge.
type AppCollector struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter

	tokens Delta
	warned bool
}

func NewAppCollector(url string) *AppCollector {
	return &AppCollector{
		url:     url,
		client:  &http.Client{Timeout: appFetchTimeout},
		limiter: rate.NewLimiter(rate.Every(appFetchTimeout), 1),
	}
}

func (c *AppCollector) Name() string { return "app" }

func (c *AppCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	if c.url == "" {
		return nil
	}
	if !c.limiter.Allow() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), appFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		st.RecordError(c.Name(), "build request: "+err.Error(), nowMs)
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.reportUnreachable(st, nowMs, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.reportUnreachable(st, nowMs, "unexpected status "+resp.Status)
		return agenterr.Wrap(agenterr.SourceUnavailable, "app metrics: unexpected status "+resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		c.reportUnreachable(st, nowMs, "parse: "+err.Error())
		return err
	}
	c.warned = false

	var sum float64
	for name, mf := range families {
		if _, ok := appTokenCounterNames[name]; !ok {
			continue
		}
		for _, m := range mf.Metric {
			if m.Counter != nil {
				sum += m.Counter.GetValue()
			} else if m.Untyped != nil {
				sum += m.Untyped.GetValue()
			}
		}
	}

	tokensGauge := registerOrGetGauge(reg, "app_tokens_per_sec", "application token throughput", nil)
	tokensPerWattGauge := registerOrGetGauge(reg, "ai_tokens_per_watt", "application tokens per watt of node power", []string{"agent_label"})

	if delta, dtSeconds, primed := c.tokens.Observe(sum, nowMs, 0); primed && dtSeconds > 0 {
		tps := Rate(delta, dtSeconds)
		tokensGauge.Set(nil, tps)
		st.SetAppMetrics(tps)

		snap := st.Snapshot()
		if snap.AppTokensPerWatt != nil {
			tokensPerWattGauge.Set(map[string]string{"agent_label": "local"}, *snap.AppTokensPerWatt)
		}
	}

	return nil
}

func (c *AppCollector) reportUnreachable(st *status.Store, nowMs int64, msg string) {
	if !c.warned {
		elog.Warnf("app collector: endpoint unreachable: %s", msg)
		c.warned = true
	}
	st.RecordError(c.Name(), msg, nowMs)
}

