// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/linkedin/goavro/v2"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
	"github.com/esnode-project/esnode-agent/internal/elog"
)

// sampleAvroSchema is the fixed Avro schema every finalized block is
// encoded against; the LTSB's sample shape never varies (metric name,
// a flat string-to-string label map, a millisecond timestamp, a
// float64 value), so this schema is static rather than derived.
const sampleAvroSchema = `{
  "type": "record",
  "name": "Sample",
  "fields": [
    {"name": "metric", "type": "string"},
    {"name": "labels", "type": {"type": "map", "values": "string"}},
    {"name": "ts_ms", "type": "long"},
    {"name": "value", "type": "double"}
  ]
}`

// ArchiveTarget abstracts where a finalized block's Avro encoding is
// written; a FileTarget writes into a local directory of its own (the
// agent uses an "archive" directory under the LTSB root), an S3Target
// uploads to an S3-compatible bucket.
type ArchiveTarget interface {
	WriteFile(name string, data []byte) error
}

// FileTarget writes archive files to a local directory.
type FileTarget struct {
	path string
}

func NewFileTarget(path string) (*FileTarget, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "archive target dir: "+err.Error())
	}
	return &FileTarget{path: path}, nil
}

func (ft *FileTarget) WriteFile(name string, data []byte) error {
	return os.WriteFile(filepath.Join(ft.path, name), data, 0o640)
}

// S3Target uploads archive files to an S3-compatible bucket.
type S3Target struct {
	client *s3.Client
	bucket string
}

func NewS3Target(bucket, region string) (*S3Target, error) {
	if bucket == "" {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "archive S3 target: empty bucket name")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "archive S3 target: load AWS config: "+err.Error())
	}
	return &S3Target{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func (st *S3Target) WriteFile(name string, data []byte) error {
	_, err := st.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(st.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/avro"),
	})
	if err != nil {
		return agenterr.Wrap(agenterr.TransientIO, fmt.Sprintf("archive S3 target: put object %q: %v", name, err))
	}
	return nil
}

// Archiver re-encodes a finalized block's samples.jsonl as one Avro
// OCF file and hands it to a target. It is meant to be wired via
// LocalTsdb.OnFinalize.
type Archiver struct {
	target ArchiveTarget
	codec  *goavro.Codec
}

func NewArchiver(target ArchiveTarget) (*Archiver, error) {
	codec, err := goavro.NewCodec(sampleAvroSchema)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.ConfigInvalid, "archive: building avro codec: "+err.Error())
	}
	return &Archiver{target: target, codec: codec}, nil
}

// ArchiveBlock reads dir's samples.jsonl, re-encodes every line as an
// Avro record, and writes the result through the configured target
// under "<start_ms>-<end_ms>.avro".
func (a *Archiver) ArchiveBlock(dir string, meta blockMetaPublic) {
	if err := a.archiveBlock(dir, meta); err != nil {
		elog.Warnf("tsdb archiver: %v", err)
	}
}

func (a *Archiver) archiveBlock(dir string, meta blockMetaPublic) error {
	content, err := os.ReadFile(filepath.Join(dir, samplesFileName))
	if err != nil {
		return agenterr.Wrap(agenterr.TransientIO, "archive: reading samples: "+err.Error())
	}

	var buf bytes.Buffer
	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               &buf,
		Codec:           a.codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return agenterr.Wrap(agenterr.EncodeFailure, "archive: creating OCF writer: "+err.Error())
	}

	var records []map[string]any
	for _, line := range splitLines(content) {
		if len(line) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			continue
		}
		records = append(records, map[string]any{
			"metric": s.Metric,
			"labels": toAvroMap(s.Labels),
			"ts_ms":  s.TsMs,
			"value":  s.Value,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := writer.Append(records); err != nil {
		return agenterr.Wrap(agenterr.EncodeFailure, "archive: appending records: "+err.Error())
	}

	name := fmt.Sprintf("%d-%d.avro", meta.StartMs, meta.EndMs)
	return a.target.WriteFile(name, buf.Bytes())
}

func toAvroMap(labels map[string]string) map[string]any {
	out := make(map[string]any, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func splitLines(content []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range content {
		if b == '\n' {
			lines = append(lines, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, content[start:])
	}
	return lines
}
