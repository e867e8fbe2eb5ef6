// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package collectors

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/esnode-project/esnode-agent/internal/metrics"
	"github.com/esnode-project/esnode-agent/internal/status"
)

type ifaceDelta struct {
	rxBytes   Delta
	txBytes   Delta
	rxPackets Delta
	txPackets Delta
	rxErrors  Delta
	rxDropped Delta
	txDropped Delta

	cumRxDropped float64
	cumTxDropped float64
}

// NetworkCollector parses /proc/net/dev and /proc/net/netstat.
type NetworkCollector struct {
	netDevPath     string
	netNetstatPath string

	ifaces   map[string]*ifaceDelta
	retrans  Delta
}

func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{
		netDevPath:     "/proc/net/dev",
		netNetstatPath: "/proc/net/netstat",
		ifaces:         make(map[string]*ifaceDelta),
	}
}

func (c *NetworkCollector) Name() string { return "network" }

func (c *NetworkCollector) Collect(reg *metrics.Registry, st *status.Store, nowMs int64) error {
	f, err := os.Open(c.netDevPath)
	if err != nil {
		st.RecordError(c.Name(), "open net/dev: "+err.Error(), nowMs)
		return err
	}
	defer f.Close()

	rxBytesCounter := registerOrGetCounter(reg, "net_rx_bytes_total", "cumulative rx bytes", []string{"iface"})
	txBytesCounter := registerOrGetCounter(reg, "net_tx_bytes_total", "cumulative tx bytes", []string{"iface"})
	rxPacketsCounter := registerOrGetCounter(reg, "net_rx_packets_total", "cumulative rx packets", []string{"iface"})
	txPacketsCounter := registerOrGetCounter(reg, "net_tx_packets_total", "cumulative tx packets", []string{"iface"})
	rxErrorsCounter := registerOrGetCounter(reg, "net_rx_errors_total", "cumulative rx errors", []string{"iface"})
	rxDroppedCounter := registerOrGetCounter(reg, "net_rx_dropped_total", "cumulative rx drops", []string{"iface"})
	txDroppedCounter := registerOrGetCounter(reg, "net_tx_dropped_total", "cumulative tx drops", []string{"iface"})
	dropFlagGauge := registerOrGetGauge(reg, "network_degradation_drops", "1 if this iface saw drops this tick", []string{"iface"})

	sc := bufio.NewScanner(f)
	lineNo := 0
	type rates struct {
		iface string
		rx    float64
		tx    float64
	}
	var best *rates
	anyDropsThisTick := false

	for sc.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // header lines
		}
		line := sc.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		rxBytes, _ := strconv.ParseFloat(fields[0], 64)
		rxPackets, _ := strconv.ParseFloat(fields[1], 64)
		rxDropped, _ := strconv.ParseFloat(fields[3], 64)
		rxErrors, _ := strconv.ParseFloat(fields[2], 64)
		txBytes, _ := strconv.ParseFloat(fields[8], 64)
		txPackets, _ := strconv.ParseFloat(fields[9], 64)
		txDropped, _ := strconv.ParseFloat(fields[11], 64)

		id, ok := c.ifaces[iface]
		if !ok {
			id = &ifaceDelta{}
			c.ifaces[iface] = id
		}

		dRxBytes, _, primed := id.rxBytes.Observe(rxBytes, nowMs, 0)
		dTxBytes, _, _ := id.txBytes.Observe(txBytes, nowMs, 0)
		dRxPackets, _, _ := id.rxPackets.Observe(rxPackets, nowMs, 0)
		dTxPackets, _, _ := id.txPackets.Observe(txPackets, nowMs, 0)
		dRxErrors, _, _ := id.rxErrors.Observe(rxErrors, nowMs, 0)
		dRxDropped, _, _ := id.rxDropped.Observe(rxDropped, nowMs, 0)
		dTxDropped, _, _ := id.txDropped.Observe(txDropped, nowMs, 0)
		id.cumRxDropped = rxDropped
		id.cumTxDropped = txDropped

		if !primed {
			continue
		}

		rxBytesCounter.Add(map[string]string{"iface": iface}, dRxBytes)
		txBytesCounter.Add(map[string]string{"iface": iface}, dTxBytes)
		rxPacketsCounter.Add(map[string]string{"iface": iface}, dRxPackets)
		txPacketsCounter.Add(map[string]string{"iface": iface}, dTxPackets)
		rxErrorsCounter.Add(map[string]string{"iface": iface}, dRxErrors)
		rxDroppedCounter.Add(map[string]string{"iface": iface}, dRxDropped)
		txDroppedCounter.Add(map[string]string{"iface": iface}, dTxDropped)

		tickDropped := dRxDropped > 0 || dTxDropped > 0
		setBoolGauge(dropFlagGauge, map[string]string{"iface": iface}, tickDropped)
		if tickDropped {
			anyDropsThisTick = true
		}

		if iface != "lo" {
			sum := dRxBytes + dTxBytes
			if best == nil || sum > best.rx+best.tx {
				best = &rates{iface: iface, rx: dRxBytes, tx: dTxBytes}
			}
		}
	}
	if err := sc.Err(); err != nil {
		st.RecordError(c.Name(), "scan net/dev: "+err.Error(), nowMs)
		return err
	}

	if best != nil {
		st.SetNetworkSummary(best.iface, best.rx, best.tx)
	}

	retransDegraded := c.collectRetransmissions(reg, st, nowMs)

	anyCumulativeDrops := false
	for _, id := range c.ifaces {
		if id.cumRxDropped > 0 || id.cumTxDropped > 0 {
			anyCumulativeDrops = true
			break
		}
	}

	st.SetNetworkDegraded(anyDropsThisTick || anyCumulativeDrops || retransDegraded)
	return nil
}

func (c *NetworkCollector) collectRetransmissions(reg *metrics.Registry, st *status.Store, nowMs int64) bool {
	f, err := os.Open(c.netNetstatPath)
	if err != nil {
		return false
	}
	defer f.Close()

	retransCounter := registerOrGetCounter(reg, "net_tcp_retransmits_total", "cumulative TCP segment retransmissions", nil)

	var header, values []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "TcpExt:") {
			continue
		}
		if header == nil {
			header = strings.Fields(line)
			continue
		}
		values = strings.Fields(line)
		break
	}
	if header == nil || values == nil || len(header) != len(values) {
		return false
	}

	col := -1
	for i, name := range header {
		if name == "TCPSegRetrans" {
			col = i
			break
		}
	}
	if col < 0 || col >= len(values) {
		return false
	}

	v, err := strconv.ParseFloat(values[col], 64)
	if err != nil {
		return false
	}
	delta, _, primed := c.retrans.Observe(v, nowMs, 0)
	if primed && delta > 0 {
		retransCounter.Add(nil, delta)
		return true
	}
	if primed {
		retransCounter.Add(nil, 0)
	}
	return false
}
