// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
The default guardrails policy is compiled into the binary so the orchestrator
always starts with a known rule set. GUARDRAILS_POLICY_FILE can replace it at
runtime.
*/

package enforcement

import (
	_ "embed"
)

// GuardrailsPolicy holds the raw bytes of guardrails_policy.yaml.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.GuardrailsPolicy, &targetStruct)
//
//go:embed guardrails_policy.yaml
var GuardrailsPolicy []byte
