// Package classifierschema defines the strict result schemas for every
// classifier operation. The classifier is an untrusted black box; any payload
// that does not validate here is treated as an operation failure by the
// caller, never as an empty result.
package classifierschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed triage_result.schema.json
var triageSchemaJSON string

//go:embed title_groups.schema.json
var titleGroupsSchemaJSON string

//go:embed cluster_result.schema.json
var clusterSchemaJSON string

//go:embed analyze_result.schema.json
var analyzeSchemaJSON string

//go:embed consolidate_result.schema.json
var consolidateSchemaJSON string

type TriagedItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type TriageResult struct {
	Red   []TriagedItem `json:"red"`
	Amber []TriagedItem `json:"amber"`
	Green []TriagedItem `json:"green"`
}

type TitleGroups struct {
	Groups [][]int `json:"groups"`
}

type ClusterResult struct {
	Groups [][]int  `json:"groups"`
	Labels []string `json:"labels"`
}

type AnalyzeResult struct {
	IsAdverse bool   `json:"is_adverse"`
	Severity  string `json:"severity"`
	Headline  string `json:"headline"`
	Summary   string `json:"summary"`
}

type ConsolidateResult struct {
	Groups    [][]int  `json:"groups"`
	Headlines []string `json:"headlines"`
}

var (
	compileOnce        sync.Once
	compiledSchemas    map[string]*jsonschema.Schema
	compiledSchemasErr error
)

func DecodeTriageResult(raw json.RawMessage, batchSize int) (*TriageResult, error) {
	var result TriageResult
	if err := decodeAgainst("triage_result.schema.json", raw, &result); err != nil {
		return nil, err
	}
	for _, list := range [][]TriagedItem{result.Red, result.Amber, result.Green} {
		for _, item := range list {
			if item.Index < 1 || item.Index > batchSize {
				return nil, fmt.Errorf("triage index %d out of range 1..%d", item.Index, batchSize)
			}
		}
	}
	return &result, nil
}

func DecodeTitleGroups(raw json.RawMessage, batchSize int) (*TitleGroups, error) {
	var result TitleGroups
	if err := decodeAgainst("title_groups.schema.json", raw, &result); err != nil {
		return nil, err
	}
	if err := validateIndexGroups(result.Groups, batchSize); err != nil {
		return nil, err
	}
	return &result, nil
}

func DecodeClusterResult(raw json.RawMessage, batchSize int) (*ClusterResult, error) {
	var result ClusterResult
	if err := decodeAgainst("cluster_result.schema.json", raw, &result); err != nil {
		return nil, err
	}
	if len(result.Labels) != len(result.Groups) {
		return nil, fmt.Errorf("cluster labels count %d does not match groups count %d", len(result.Labels), len(result.Groups))
	}
	if err := validateIndexGroups(result.Groups, batchSize); err != nil {
		return nil, err
	}
	return &result, nil
}

func DecodeAnalyzeResult(raw json.RawMessage) (*AnalyzeResult, error) {
	var result AnalyzeResult
	if err := decodeAgainst("analyze_result.schema.json", raw, &result); err != nil {
		return nil, err
	}
	severity := strings.ToUpper(strings.TrimSpace(result.Severity))
	if result.IsAdverse && severity != "RED" && severity != "AMBER" {
		return nil, fmt.Errorf("adverse analysis requires severity RED or AMBER, got %q", result.Severity)
	}
	result.Severity = severity
	return &result, nil
}

func DecodeConsolidateResult(raw json.RawMessage, findingCount int) (*ConsolidateResult, error) {
	var result ConsolidateResult
	if err := decodeAgainst("consolidate_result.schema.json", raw, &result); err != nil {
		return nil, err
	}
	if err := validateIndexGroups(result.Groups, findingCount); err != nil {
		return nil, err
	}
	return &result, nil
}

func validateIndexGroups(groups [][]int, size int) error {
	seen := make(map[int]struct{})
	for gi, group := range groups {
		for _, index := range group {
			if index < 1 || index > size {
				return fmt.Errorf("group %d index %d out of range 1..%d", gi, index, size)
			}
			if _, dup := seen[index]; dup {
				return fmt.Errorf("index %d appears in more than one group", index)
			}
			seen[index] = struct{}{}
		}
	}
	return nil
}

func decodeAgainst(schemaName string, raw json.RawMessage, target any) error {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema(schemaName)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", schemaName, err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, target); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func loadSchema(name string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		sources := map[string]string{
			"triage_result.schema.json":      triageSchemaJSON,
			"title_groups.schema.json":       titleGroupsSchemaJSON,
			"cluster_result.schema.json":     clusterSchemaJSON,
			"analyze_result.schema.json":     analyzeSchemaJSON,
			"consolidate_result.schema.json": consolidateSchemaJSON,
		}

		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		compiled := make(map[string]*jsonschema.Schema, len(sources))
		for resource, source := range sources {
			if err := compiler.AddResource(resource, strings.NewReader(source)); err != nil {
				compiledSchemasErr = fmt.Errorf("add schema resource %s: %w", resource, err)
				return
			}
		}
		for resource := range sources {
			schema, err := compiler.Compile(resource)
			if err != nil {
				compiledSchemasErr = fmt.Errorf("compile schema %s: %w", resource, err)
				return
			}
			compiled[resource] = schema
		}
		compiledSchemas = compiled
	})

	if compiledSchemasErr != nil {
		return nil, compiledSchemasErr
	}
	schema, ok := compiledSchemas[name]
	if !ok || schema == nil {
		return nil, fmt.Errorf("schema %s not initialized", name)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
