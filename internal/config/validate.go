// Copyright (C) esnode-project contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/esnode-project/esnode-agent/internal/agenterr"
)

// schemaJSON constrains the subset of AgentConfig that can make the agent
// refuse to start; it deliberately does not require every key, since
// every field has a usable zero-value or an explicit Default().
const schemaJSON = `{
  "type": "object",
  "properties": {
    "listen_address": {"type": "string", "minLength": 1},
    "scrape_interval": {"type": "integer", "minimum": 1},
    "local_tsdb_retention_hours": {"type": "integer", "minimum": 1},
    "local_tsdb_max_disk_mb": {"type": "integer", "minimum": 1},
    "log_level": {"enum": ["debug", "info", "warn", "error", ""]},
    "orchestrator": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "allow_public": {"type": "boolean"},
        "token": {"type": "string"}
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func compile() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	sch, err := jsonschema.CompileString("esnode-agent-config.json", schemaJSON)
	if err != nil {
		return nil, err
	}
	compiledSchema = sch
	return sch, nil
}

// Validate checks cfg against the embedded schema, reporting ConfigInvalid
// on any violation. scrape_interval and durations are validated in their
// time.Duration nanosecond integer form, matching how AgentConfig encodes
// to JSON.
func Validate(cfg AgentConfig) error {
	sch, err := compile()
	if err != nil {
		return agenterr.Wrap(agenterr.Fatal, fmt.Sprintf("config: schema compile failed: %v", err))
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, fmt.Sprintf("config: marshal for validation failed: %v", err))
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, err.Error())
	}

	if err := sch.Validate(instance); err != nil {
		return agenterr.Wrap(agenterr.ConfigInvalid, err.Error())
	}

	if cfg.Orchestrator.Enabled && cfg.Orchestrator.Token == "" && !cfg.Orchestrator.AllowPublic {
		return agenterr.Wrap(agenterr.ConfigInvalid,
			"config: orchestrator enabled with no token and allow_public is false; orchestrator routes would be unreachable by design")
	}

	return nil
}
