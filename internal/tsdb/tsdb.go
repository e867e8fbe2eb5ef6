// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tsdb implements the local time-series buffer (LTSB): a
// fixed-window, append-only on-disk journal of every sample the Metric
// Registry produces, with a background pruner and a simple replay
// export API.
package tsdb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	dto "github.com/prometheus/client_model/go"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
	"github.com/esnode-project/esnode-agent/internal/elog"
	"github.com/esnode-project/esnode-agent/internal/metrics"
)

const (
	blockDurationMs  = 2 * 60 * 60 * 1000 // 2h fixed windows
	flushIntervalMs  = 30 * 1000
	samplesFileName  = "samples.jsonl"
	metaFileName     = "meta.json"
	indexFileName    = "index.json"
)

// Sample is one exported observation: one family member at one instant.
type Sample struct {
	Metric string            `json:"metric"`
	Labels map[string]string `json:"labels"`
	TsMs   int64             `json:"ts_ms"`
	Value  float64           `json:"value"`
}

// Config is the subset of agent configuration the LTSB needs.
type Config struct {
	Path            string
	RetentionHours  uint64
	MaxDiskMB       uint64
}

// blockMeta is persisted identically to both meta.json and index.json.
type blockMeta struct {
	StartMs         int64            `json:"start_ms"`
	EndMs           int64            `json:"end_ms"`
	Samples         uint64           `json:"samples"`
	MetricCounts    map[string]uint64 `json:"metric_counts"`
	LabelHashCounts map[uint64]uint64 `json:"label_hash_counts"`
}

func newBlockMeta(startMs, endMs int64) *blockMeta {
	return &blockMeta{
		StartMs:         startMs,
		EndMs:           endMs,
		MetricCounts:    make(map[string]uint64),
		LabelHashCounts: make(map[uint64]uint64),
	}
}

type blockWriter struct {
	meta        *blockMeta
	dir         string
	samplesPath string
	file        *os.File
	writer      *bufio.Writer
	lastFlushMs int64
}

func createBlockWriter(root string, startMs, endMs int64) (*blockWriter, error) {
	dir := filepath.Join(root, fmt.Sprintf("%d-%d", startMs, endMs))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, agenterr.Wrap(agenterr.TransientIO, "creating block dir "+dir+": "+err.Error())
	}
	samplesPath := filepath.Join(dir, samplesFileName)
	f, err := os.OpenFile(samplesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.TransientIO, "opening samples file "+samplesPath+": "+err.Error())
	}
	return &blockWriter{
		meta:        newBlockMeta(startMs, endMs),
		dir:         dir,
		samplesPath: samplesPath,
		file:        f,
		writer:      bufio.NewWriter(f),
		lastFlushMs: startMs,
	}, nil
}

func (w *blockWriter) writeSample(s Sample) error {
	line, err := json.Marshal(s)
	if err != nil {
		return agenterr.Wrap(agenterr.EncodeFailure, err.Error())
	}
	if _, err := w.writer.Write(line); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "writing sample: "+err.Error())
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, err.Error())
	}
	w.meta.Samples++
	w.meta.MetricCounts[s.Metric]++
	w.meta.LabelHashCounts[labelsHash(s.Labels)]++
	return w.flushIfNeeded(s.TsMs)
}

func (w *blockWriter) flushIfNeeded(tsMs int64) error {
	if tsMs-w.lastFlushMs >= flushIntervalMs {
		if err := w.writer.Flush(); err != nil {
			return agenterr.Wrap(agenterr.TransientIO, err.Error())
		}
		w.lastFlushMs = tsMs
	}
	return nil
}

func (w *blockWriter) persistIndexFiles() error {
	b, err := json.MarshalIndent(w.meta, "", "  ")
	if err != nil {
		return agenterr.Wrap(agenterr.EncodeFailure, err.Error())
	}
	metaPath := filepath.Join(w.dir, metaFileName)
	indexPath := filepath.Join(w.dir, indexFileName)
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "writing meta "+metaPath+": "+err.Error())
	}
	if err := os.WriteFile(indexPath, b, 0o644); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "writing index "+indexPath+": "+err.Error())
	}
	return nil
}

func (w *blockWriter) finish() error {
	if err := w.writer.Flush(); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, err.Error())
	}
	if err := w.persistIndexFiles(); err != nil {
		return err
	}
	return w.file.Close()
}

// LocalTsdb is the LTSB: one mutex-guarded current block writer plus a
// root directory of previously finalised blocks.
type LocalTsdb struct {
	cfg            Config
	blockDurationMs int64

	mu      sync.Mutex
	current *blockWriter

	onFinalize func(dir string, meta blockMetaPublic)
}

// blockMetaPublic is the subset of blockMeta exposed to archive hooks
// without leaking the package-private type.
type blockMetaPublic struct {
	StartMs int64
	EndMs   int64
	Samples uint64
}

func New(cfg Config) (*LocalTsdb, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "creating tsdb path "+cfg.Path+": "+err.Error())
	}
	return &LocalTsdb{cfg: cfg, blockDurationMs: blockDurationMs}, nil
}

// OnFinalize registers a hook invoked whenever a block is rolled, used
// to feed an optional archive add-on (Avro/S3).
func (t *LocalTsdb) OnFinalize(fn func(dir string, meta blockMetaPublic)) {
	t.onFinalize = fn
}

// WriteSamples appends each sample to the block matching its
// timestamp, rolling to a new block when the window boundary is
// crossed.
func (t *LocalTsdb) WriteSamples(samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range samples {
		if err := t.ensureBlockForTsLocked(s.TsMs); err != nil {
			return err
		}
		if t.current != nil {
			if err := t.current.writeSample(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *LocalTsdb) ensureBlockForTsLocked(tsMs int64) error {
	windowStart := (tsMs / t.blockDurationMs) * t.blockDurationMs
	windowEnd := windowStart + t.blockDurationMs

	needsNew := t.current == nil || tsMs < t.current.meta.StartMs || tsMs >= t.current.meta.EndMs
	if !needsNew {
		return nil
	}

	if t.current != nil {
		finished := t.current
		if err := finished.finish(); err != nil {
			return err
		}
		if t.onFinalize != nil {
			t.onFinalize(finished.dir, blockMetaPublic{
				StartMs: finished.meta.StartMs,
				EndMs:   finished.meta.EndMs,
				Samples: finished.meta.Samples,
			})
		}
	}

	w, err := createBlockWriter(t.cfg.Path, windowStart, windowEnd)
	if err != nil {
		return err
	}
	t.current = w
	return nil
}

// FlushCurrent finalises and closes the current block, if any.
func (t *LocalTsdb) FlushCurrent() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	w := t.current
	t.current = nil
	return w.finish()
}

// SnapshotCurrent flushes buffered data and writes index/metadata for
// the current block without rolling it, so export() sees up-to-date
// metadata mid-window.
func (t *LocalTsdb) SnapshotCurrent() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	if err := t.current.writer.Flush(); err != nil {
		return agenterr.Wrap(agenterr.TransientIO, err.Error())
	}
	return t.current.persistIndexFiles()
}

type blockInfo struct {
	dir       string
	startMs   int64
	endMs     int64
	sizeBytes uint64
	index     *blockMeta
}

func (t *LocalTsdb) listBlocks() ([]blockInfo, error) {
	entries, err := os.ReadDir(t.cfg.Path)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.TransientIO, "reading "+t.cfg.Path+": "+err.Error())
	}
	out := make([]blockInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		parts := strings.Split(name, "-")
		if len(parts) != 2 {
			continue
		}
		startMs, err1 := strconv.ParseInt(parts[0], 10, 64)
		endMs, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		dir := filepath.Join(t.cfg.Path, name)
		size := dirSizeBytes(dir)
		idx, _ := readBlockIndex(dir)
		out = append(out, blockInfo{dir: dir, startMs: startMs, endMs: endMs, sizeBytes: size, index: idx})
	}
	return out, nil
}

func readBlockIndex(dir string) (*blockMeta, error) {
	b, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}
	var m blockMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func dirSizeBytes(path string) uint64 {
	var size uint64
	stack := []string{path}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				continue
			}
			for _, e := range entries {
				stack = append(stack, filepath.Join(p, e.Name()))
			}
			continue
		}
		size += uint64(info.Size())
	}
	return size
}

// Prune deletes blocks older than the retention window, then (if the
// directory is still over budget) deletes the oldest remaining blocks
// until it fits; the current, still-open block is listed like any
// other but is recognised by its directory and skipped in both passes.
func (t *LocalTsdb) Prune(nowMs int64) error {
	retentionMs := int64(t.cfg.RetentionHours) * 60 * 60 * 1000
	maxBytes := int64(t.cfg.MaxDiskMB) * 1024 * 1024

	blocks, err := t.listBlocks()
	if err != nil {
		return err
	}

	t.mu.Lock()
	currentDir := ""
	if t.current != nil {
		currentDir = t.current.dir
	}
	t.mu.Unlock()

	for _, b := range blocks {
		if b.dir == currentDir {
			continue
		}
		if b.endMs < nowMs-retentionMs {
			elog.Debugf("tsdb: pruning expired block %s", b.dir)
			_ = os.RemoveAll(b.dir)
		}
	}

	blocks, err = t.listBlocks()
	if err != nil {
		return err
	}
	var totalBytes int64
	for _, b := range blocks {
		totalBytes += int64(b.sizeBytes)
	}
	if totalBytes <= maxBytes {
		return nil
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].startMs < blocks[j].startMs })
	for _, b := range blocks {
		if totalBytes <= maxBytes {
			break
		}
		if b.dir == currentDir {
			continue
		}
		elog.Debugf("tsdb: pruning block %s to enforce disk budget", b.dir)
		if err := os.RemoveAll(b.dir); err == nil {
			totalBytes -= int64(b.sizeBytes)
		}
	}
	return nil
}

// Export replays samples matching the given range and metric filters.
// Each metric filter is either an exact name or a trailing-wildcard
// prefix ("gpu_*"); a block whose index contains no matching metric
// name is skipped without reading its samples file.
func (t *LocalTsdb) Export(fromMs, toMs *int64, metricFilters []string) ([]string, error) {
	_ = t.SnapshotCurrent()

	blocks, err := t.listBlocks()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, b := range blocks {
		if !overlaps(b.startMs, b.endMs, fromMs, toMs) {
			continue
		}
		if len(metricFilters) > 0 && b.index != nil && !metricsMatchIndex(metricFilters, b.index) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(b.dir, samplesFileName))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(content), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var s Sample
			if err := json.Unmarshal([]byte(line), &s); err != nil {
				continue
			}
			if !timestampInRange(s.TsMs, fromMs, toMs) {
				continue
			}
			if len(metricFilters) > 0 && !matchesMetric(s.Metric, metricFilters) {
				continue
			}
			out = append(out, formatExportLine(s))
		}
	}
	return out, nil
}

func overlaps(startMs, endMs int64, from, to *int64) bool {
	afterFrom := from == nil || endMs >= *from
	beforeTo := to == nil || startMs <= *to
	return afterFrom && beforeTo
}

func timestampInRange(ts int64, from, to *int64) bool {
	return (from == nil || ts >= *from) && (to == nil || ts <= *to)
}

func metricsMatchIndex(filters []string, idx *blockMeta) bool {
	for _, f := range filters {
		if strings.HasSuffix(f, "*") {
			prefix := strings.TrimSuffix(f, "*")
			for m := range idx.MetricCounts {
				if strings.HasPrefix(m, prefix) {
					return true
				}
			}
			continue
		}
		if _, ok := idx.MetricCounts[f]; ok {
			return true
		}
	}
	return false
}

func matchesMetric(metric string, filters []string) bool {
	for _, f := range filters {
		if strings.HasSuffix(f, "*") {
			if strings.HasPrefix(metric, strings.TrimSuffix(f, "*")) {
				return true
			}
			continue
		}
		if metric == f {
			return true
		}
	}
	return false
}

func formatExportLine(s Sample) string {
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var labelsStr string
	if len(keys) > 0 {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%q", k, s.Labels[k]))
		}
		labelsStr = "{" + strings.Join(parts, ",") + "}"
	}
	return fmt.Sprintf("%s%s %d %.6f", s.Metric, labelsStr, s.TsMs, s.Value)
}

func labelsHash(labels map[string]string) uint64 {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	const prime uint64 = 1099511628211
	for _, k := range keys {
		for _, c := range []byte(k) {
			h ^= uint64(c)
			h *= prime
		}
		for _, c := range []byte(labels[k]) {
			h ^= uint64(c)
			h *= prime
		}
	}
	return h
}

// SamplesFromRegistry converts the registry's gathered families into
// the flat Sample list the LTSB stores. Histograms and summaries are
// not persisted in this on-agent buffer.
func SamplesFromRegistry(reg *metrics.Registry, fallbackTsMs int64) ([]Sample, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, fam := range families {
		switch fam.GetType() {
		case dto.MetricType_GAUGE, dto.MetricType_COUNTER, dto.MetricType_UNTYPED:
			for _, m := range fam.GetMetric() {
				if s, ok := sampleFromMetric(fam, m, fallbackTsMs); ok {
					out = append(out, s)
				}
			}
		default:
			continue
		}
	}
	return out, nil
}

func sampleFromMetric(fam *dto.MetricFamily, m *dto.Metric, fallbackTsMs int64) (Sample, bool) {
	tsMs := fallbackTsMs
	if ts := m.GetTimestampMs(); ts > 0 {
		tsMs = ts
	}
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	var value float64
	switch fam.GetType() {
	case dto.MetricType_GAUGE:
		value = m.GetGauge().GetValue()
	case dto.MetricType_COUNTER:
		value = m.GetCounter().GetValue()
	case dto.MetricType_UNTYPED:
		value = m.GetUntyped().GetValue()
	default:
		return Sample{}, false
	}
	return Sample{Metric: fam.GetName(), Labels: labels, TsMs: tsMs, Value: value}, true
}
