// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	type countResponse struct {
//	    Get map[string][]map[string]interface{} `json:"Get"`
//	}
//
//	resp, err := client.GraphQL().Get().WithClassName("Mathvectors").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[countResponse](resp)
//	if err != nil { ... }
//
//	fmt.Println(len(parsed.Get["Mathvectors"]))
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Knowledge Class Types
// =============================================================================

// KnowledgeAdditional is the _additional block requested on near-vector
// queries. Certainty and Distance are nil when Weaviate omits them.
type KnowledgeAdditional struct {
	ID        string   `json:"id"`
	Certainty *float64 `json:"certainty"`
	Distance  *float64 `json:"distance"`
}

// KnowledgeProperties is the property set written for a new knowledge entry.
type KnowledgeProperties struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source"`
}

// ToMap converts KnowledgeProperties to the map format required by
// Weaviate's WithProperties(), using the given property names.
//
// # Example
//
//	props := KnowledgeProperties{Question: "2+2?", Answer: "4", Source: "user-feedback"}
//	client.Data().Creator().WithProperties(props.ToMap("question", "answer", "source")).Do(ctx)
func (p *KnowledgeProperties) ToMap(questionField, answerField, sourceField string) map[string]interface{} {
	return map[string]interface{}{
		questionField: p.Question,
		answerField:   p.Answer,
		sourceField:   p.Source,
	}
}

type getResponse struct {
	Get map[string][]map[string]interface{} `json:"Get"`
}

// GetObjects extracts the object list for className from a GraphQL Get
// response. A response that does not have the expected shape yields nil.
func GetObjects(resp *models.GraphQLResponse, className string) []map[string]interface{} {
	parsed, err := ParseGraphQLResponse[getResponse](resp)
	if err != nil {
		return nil
	}
	return parsed.Get[className]
}

// AdditionalOf decodes the _additional block of one returned object.
func AdditionalOf(obj map[string]interface{}) KnowledgeAdditional {
	var add KnowledgeAdditional
	raw, ok := obj["_additional"].(map[string]interface{})
	if !ok {
		return add
	}
	if id, ok := raw["id"].(string); ok {
		add.ID = id
	}
	if c, ok := raw["certainty"].(float64); ok {
		add.Certainty = &c
	}
	if d, ok := raw["distance"].(float64); ok {
		add.Distance = &d
	}
	return add
}

// GraphQLErrorMessages joins the error messages of a GraphQL response.
// Returns "" when there are none.
func GraphQLErrorMessages(resp *models.GraphQLResponse) string {
	if resp == nil || len(resp.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil && e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
