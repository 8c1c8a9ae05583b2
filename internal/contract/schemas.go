package contract

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The five stage-artifact schemas, JSON Schema draft 2020-12. Document
// shapes are closed (additionalProperties: false); open maps such as
// adapter stats stay open on purpose. The __VERSION__ placeholder is
// replaced with ContractVersion at compile time so the version pin lives
// in exactly one Go constant.

const providerEnum = `["openai", "nano", "local"]`

const targetsIndexSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["contractVersion", "packId", "manifestHash", "defaultProvider", "targets"],
  "properties": {
    "contractVersion": {"type": "string", "const": "__VERSION__"},
    "packId": {"type": "string", "minLength": 1},
    "manifestHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "defaultProvider": {"enum": __PROVIDERS__},
    "targets": {"type": "array", "items": {"$ref": "#/$defs/plannedTarget"}},
    "warnings": {"type": "array", "items": {"$ref": "#/$defs/planWarning"}}
  },
  "$defs": {
    "plannedTarget": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "kind", "out", "provider", "acceptance", "promptSpec", "generationPolicy", "inputHash", "jobId"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "kind": {"enum": ["sprite", "tile", "background", "effect", "spritesheet"]},
        "out": {"type": "string", "minLength": 1},
        "provider": {"enum": __PROVIDERS__},
        "model": {"type": "string"},
        "styleKit": {"type": "string"},
        "consistencyGroup": {"type": "string"},
        "evaluationProfile": {"type": "string"},
        "atlasGroup": {"type": "string"},
        "acceptance": {"$ref": "#/$defs/acceptanceSpec"},
        "runtimeSpec": {"$ref": "#/$defs/runtimeSpec"},
        "promptSpec": {"$ref": "#/$defs/promptSpec"},
        "generationPolicy": {"$ref": "#/$defs/generationPolicy"},
        "postProcess": {"$ref": "#/$defs/postProcessPolicy"},
        "palette": {"$ref": "#/$defs/palettePolicy"},
        "tileable": {"$ref": "#/$defs/tileablePolicy"},
        "editSpec": {"$ref": "#/$defs/editSpec"},
        "spritesheet": {"$ref": "#/$defs/spritesheetMeta"},
        "regenerationSource": {"$ref": "#/$defs/regenerationSource"},
        "generationDisabled": {"type": "boolean"},
        "catalogDisabled": {"type": "boolean"},
        "inputHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "jobId": {"type": "string", "pattern": "^[0-9a-f]{16}$"}
      }
    },
    "acceptanceSpec": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "size": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "alpha": {"type": "boolean"},
        "maxFileSizeKB": {"type": "integer", "minimum": 0}
      }
    },
    "runtimeSpec": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "anchor": {"type": "string"},
        "previewSize": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "alphaRequired": {"type": "boolean"}
      }
    },
    "promptSpec": {
      "type": "object",
      "additionalProperties": false,
      "required": ["primary"],
      "properties": {
        "primary": {"type": "string", "minLength": 1},
        "style": {"type": "string"},
        "subject": {"type": "string"},
        "details": {"type": "string"},
        "negative": {"type": "string"},
        "constraints": {"type": "array", "items": {"type": "string"}}
      }
    },
    "generationPolicy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "size": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "quality": {"type": "string"},
        "background": {"enum": ["transparent", "opaque", "auto"]},
        "outputFormat": {"enum": ["png", "webp", "jpeg"]},
        "candidateCount": {"type": "integer", "minimum": 1},
        "maxRetries": {"type": "integer", "minimum": 0},
        "fallbackProviders": {"type": "array", "items": {"enum": __PROVIDERS__}},
        "rateLimitPerMinute": {"type": "integer", "minimum": 1},
        "providerConcurrency": {"type": "integer", "minimum": 1},
        "generationMode": {"enum": ["edit-first"]},
        "vlmGate": {"$ref": "#/$defs/vlmGateSpec"},
        "coarseToFine": {"$ref": "#/$defs/coarseToFineSpec"}
      }
    },
    "vlmGateSpec": {
      "type": "object",
      "additionalProperties": false,
      "required": ["threshold"],
      "properties": {
        "threshold": {"type": "number"},
        "maxScore": {"type": "number"},
        "rubric": {"type": "string"}
      }
    },
    "coarseToFineSpec": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "draftCount": {"type": "integer", "minimum": 1},
        "draftSize": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "promoteTopK": {"type": "integer", "minimum": 1},
        "minDraftScore": {"type": "number"},
        "requireDraftAcceptance": {"type": "boolean"}
      }
    },
    "postProcessPolicy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "emitRaw": {"type": "boolean"},
        "trim": {"type": "boolean"},
        "pad": {"type": "integer", "minimum": 0},
        "smartCrop": {"type": "boolean"},
        "resize": {"type": "string"},
        "algorithm": {"enum": ["nearest", "lanczos3"]},
        "pixelPerfect": {"type": "boolean"},
        "outline": {"$ref": "#/$defs/outlineSpec"},
        "resizeVariants": {"type": "array", "items": {"$ref": "#/$defs/resizeVariant"}},
        "emitVariants": {"type": "array", "items": {"enum": ["pixel", "style-ref"]}},
        "auxiliaryMaps": {"type": "array", "items": {"enum": ["normal", "specular", "ao"]}}
      }
    },
    "outlineSpec": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"},
        "thickness": {"type": "integer", "minimum": 1}
      }
    },
    "resizeVariant": {
      "type": "object",
      "additionalProperties": false,
      "required": ["suffix", "size"],
      "properties": {
        "suffix": {"type": "string", "minLength": 1},
        "size": {"type": "string", "pattern": "^\\d+x\\d+$"}
      }
    },
    "palettePolicy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "colors": {"type": "array", "items": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"}},
        "maxColors": {"type": "integer", "minimum": 1},
        "strict": {"type": "boolean"}
      }
    },
    "tileablePolicy": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "tileable": {"type": "boolean"},
        "seamHeal": {"type": "boolean"},
        "wrapGrid": {"$ref": "#/$defs/wrapGridSpec"}
      }
    },
    "wrapGridSpec": {
      "type": "object",
      "additionalProperties": false,
      "required": ["cols", "rows"],
      "properties": {
        "cols": {"type": "integer", "minimum": 1},
        "rows": {"type": "integer", "minimum": 1}
      }
    },
    "editSpec": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "inputs": {"type": "array", "items": {"$ref": "#/$defs/editInput"}},
        "fidelity": {"enum": ["low", "high"]},
        "instruction": {"type": "string"},
        "preserveComposition": {"type": "boolean"}
      }
    },
    "editInput": {
      "type": "object",
      "additionalProperties": false,
      "required": ["path", "role"],
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "role": {"enum": ["base", "mask", "reference"]}
      }
    },
    "spritesheetMeta": {
      "type": "object",
      "additionalProperties": false,
      "required": ["sheetId"],
      "properties": {
        "isSheet": {"type": "boolean"},
        "sheetId": {"type": "string", "minLength": 1},
        "frameSize": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "animationName": {"type": "string"},
        "frameIndex": {"type": "integer", "minimum": 0},
        "animations": {"type": "array", "items": {"$ref": "#/$defs/sheetAnimation"}}
      }
    },
    "sheetAnimation": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "frames"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "frames": {"type": "integer", "minimum": 1},
        "prompt": {"type": "string"},
        "fps": {"type": "integer", "minimum": 1}
      }
    },
    "regenerationSource": {
      "type": "object",
      "additionalProperties": false,
      "required": ["lockPath", "lockSelectedOutputPath", "lockApproved"],
      "properties": {
        "lockPath": {"type": "string", "minLength": 1},
        "lockSelectedOutputPath": {"type": "string", "minLength": 1},
        "lockApproved": {"type": "boolean"}
      }
    },
    "planWarning": {
      "type": "object",
      "additionalProperties": false,
      "required": ["code", "message"],
      "properties": {
        "targetId": {"type": "string"},
        "code": {"type": "string", "minLength": 1},
        "message": {"type": "string", "minLength": 1}
      }
    }
  }
}`

const provenanceRunSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["contractVersion", "runId", "inputHash", "targetsIndex", "startedAt", "finishedAt", "results", "failures"],
  "properties": {
    "contractVersion": {"type": "string", "const": "__VERSION__"},
    "runId": {"type": "string", "pattern": "^[0-9a-f]{16}$"},
    "inputHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "targetsIndex": {"type": "string", "minLength": 1},
    "startedAt": {"type": "string", "minLength": 1},
    "finishedAt": {"type": "string", "minLength": 1},
    "results": {"type": "array", "items": {"$ref": "#/$defs/jobResult"}},
    "failures": {"type": "array", "items": {"$ref": "#/$defs/jobFailure"}},
    "skipped": {"type": "array", "items": {"$ref": "#/$defs/skippedTarget"}}
  },
  "$defs": {
    "jobResult": {
      "type": "object",
      "additionalProperties": false,
      "required": ["jobId", "targetId", "provider", "outputPath", "inputHash", "candidates", "startedAt", "finishedAt"],
      "properties": {
        "jobId": {"type": "string", "pattern": "^[0-9a-f]{16}$"},
        "targetId": {"type": "string", "minLength": 1},
        "provider": {"enum": __PROVIDERS__},
        "model": {"type": "string"},
        "outputPath": {"type": "string", "minLength": 1},
        "generationMode": {"enum": ["edit-first"]},
        "inputHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "candidates": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/candidateResult"}},
        "coarseToFine": {"$ref": "#/$defs/coarseToFineReport"},
        "regenerationSource": {"$ref": "#/$defs/regenerationSource"},
        "startedAt": {"type": "string", "minLength": 1},
        "finishedAt": {"type": "string", "minLength": 1}
      }
    },
    "candidateResult": {
      "type": "object",
      "additionalProperties": false,
      "required": ["path", "bytes", "score", "passedAcceptance", "selected"],
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "bytes": {"type": "integer", "minimum": 0},
        "width": {"type": "integer", "minimum": 0},
        "height": {"type": "integer", "minimum": 0},
        "score": {"type": "number"},
        "passedAcceptance": {"type": "boolean"},
        "selected": {"type": "boolean"},
        "vlmGate": {"$ref": "#/$defs/vlmGateResult"},
        "notes": {"type": "array", "items": {"type": "string"}}
      }
    },
    "vlmGateResult": {
      "type": "object",
      "additionalProperties": false,
      "required": ["score", "threshold", "maxScore", "passed"],
      "properties": {
        "score": {"type": "number"},
        "threshold": {"type": "number"},
        "maxScore": {"type": "number"},
        "passed": {"type": "boolean"},
        "reason": {"type": "string"},
        "rubric": {"type": "string"}
      }
    },
    "coarseToFineReport": {
      "type": "object",
      "additionalProperties": false,
      "required": ["draftCount", "promoted"],
      "properties": {
        "draftCount": {"type": "integer", "minimum": 0},
        "promoted": {"type": "integer", "minimum": 0},
        "discarded": {"type": "array", "items": {"$ref": "#/$defs/discardedDraft"}}
      }
    },
    "discardedDraft": {
      "type": "object",
      "additionalProperties": false,
      "required": ["path", "score", "reason"],
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "score": {"type": "number"},
        "reason": {"type": "string", "minLength": 1}
      }
    },
    "regenerationSource": {
      "type": "object",
      "additionalProperties": false,
      "required": ["lockPath", "lockSelectedOutputPath", "lockApproved"],
      "properties": {
        "lockPath": {"type": "string", "minLength": 1},
        "lockSelectedOutputPath": {"type": "string", "minLength": 1},
        "lockApproved": {"type": "boolean"}
      }
    },
    "jobFailure": {
      "type": "object",
      "additionalProperties": false,
      "required": ["targetId", "code", "message", "providers"],
      "properties": {
        "targetId": {"type": "string", "minLength": 1},
        "jobId": {"type": "string"},
        "code": {"type": "string", "minLength": 1},
        "message": {"type": "string"},
        "providers": {"type": "array", "items": {"enum": __PROVIDERS__}},
        "attempts": {"type": "array", "items": {"$ref": "#/$defs/attemptRecord"}}
      }
    },
    "attemptRecord": {
      "type": "object",
      "additionalProperties": false,
      "required": ["provider", "attempt", "code"],
      "properties": {
        "provider": {"enum": __PROVIDERS__},
        "attempt": {"type": "integer", "minimum": 1},
        "code": {"type": "string", "minLength": 1},
        "message": {"type": "string"}
      }
    },
    "skippedTarget": {
      "type": "object",
      "additionalProperties": false,
      "required": ["targetId", "inputHash", "reason"],
      "properties": {
        "targetId": {"type": "string", "minLength": 1},
        "inputHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "reason": {"type": "string", "minLength": 1}
      }
    }
  }
}`

const acceptanceReportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["contractVersion", "targets", "summary"],
  "properties": {
    "contractVersion": {"type": "string", "const": "__VERSION__"},
    "runId": {"type": "string"},
    "targets": {"type": "array", "items": {"$ref": "#/$defs/targetAcceptance"}},
    "summary": {"$ref": "#/$defs/summary"}
  },
  "$defs": {
    "targetAcceptance": {
      "type": "object",
      "additionalProperties": false,
      "required": ["targetId", "path", "width", "height", "bytes", "hasAlpha", "hasTransparentPixels", "issues", "passed"],
      "properties": {
        "targetId": {"type": "string", "minLength": 1},
        "path": {"type": "string", "minLength": 1},
        "width": {"type": "integer", "minimum": 0},
        "height": {"type": "integer", "minimum": 0},
        "bytes": {"type": "integer", "minimum": 0},
        "hasAlpha": {"type": "boolean"},
        "hasTransparentPixels": {"type": "boolean"},
        "palette": {"$ref": "#/$defs/paletteCompliance"},
        "seamScore": {"type": "number"},
        "wrapGridSeamScore": {"type": "number"},
        "boundary": {"$ref": "#/$defs/boundaryQuality"},
        "issues": {"type": "array", "items": {"$ref": "#/$defs/issue"}},
        "passed": {"type": "boolean"}
      }
    },
    "issue": {
      "type": "object",
      "additionalProperties": false,
      "required": ["level", "code", "message"],
      "properties": {
        "level": {"enum": ["error", "warning"]},
        "code": {"type": "string", "minLength": 1},
        "message": {"type": "string", "minLength": 1}
      }
    },
    "paletteCompliance": {
      "type": "object",
      "additionalProperties": false,
      "required": ["compliant", "distinctColors"],
      "properties": {
        "compliant": {"type": "boolean"},
        "distinctColors": {"type": "integer", "minimum": 0},
        "maxAllowed": {"type": "integer", "minimum": 0},
        "offPaletteRatio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "boundaryQuality": {
      "type": "object",
      "additionalProperties": false,
      "required": ["haloRisk", "strayNoise", "edgeSharpness"],
      "properties": {
        "haloRisk": {"type": "number"},
        "strayNoise": {"type": "number"},
        "edgeSharpness": {"type": "number"}
      }
    },
    "summary": {
      "type": "object",
      "additionalProperties": false,
      "required": ["passed", "failed", "warned"],
      "properties": {
        "passed": {"type": "integer", "minimum": 0},
        "failed": {"type": "integer", "minimum": 0},
        "warned": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const evalReportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["contractVersion", "targets", "packInvariants", "adapterHealth", "summary"],
  "properties": {
    "contractVersion": {"type": "string", "const": "__VERSION__"},
    "runId": {"type": "string"},
    "targets": {"type": "array", "items": {"$ref": "#/$defs/targetEvaluation"}},
    "packInvariants": {"type": "array", "items": {"$ref": "#/$defs/invariantIssue"}},
    "adapterHealth": {"$ref": "#/$defs/adapterHealth"},
    "summary": {"$ref": "#/$defs/summary"}
  },
  "$defs": {
    "targetEvaluation": {
      "type": "object",
      "additionalProperties": false,
      "required": ["targetId", "path", "candidateScore", "adapterBonus", "consistencyPenalty", "hardGateErrors", "hardGateWarnings", "finalScore", "passedHardGates"],
      "properties": {
        "targetId": {"type": "string", "minLength": 1},
        "path": {"type": "string", "minLength": 1},
        "candidateScore": {"type": "number"},
        "adapterBonus": {"type": "number"},
        "adapterMetrics": {"type": "object", "additionalProperties": {"type": "number"}},
        "adapterWarnings": {"type": "array", "items": {"type": "string"}},
        "consistencyPenalty": {"type": "number"},
        "hardGateErrors": {"type": "array", "items": {"type": "string"}},
        "hardGateWarnings": {"type": "array", "items": {"type": "string"}},
        "finalScore": {"type": "number"},
        "passedHardGates": {"type": "boolean"}
      }
    },
    "invariantIssue": {
      "type": "object",
      "additionalProperties": false,
      "required": ["level", "code", "message"],
      "properties": {
        "level": {"enum": ["error", "warning"]},
        "code": {"type": "string", "minLength": 1},
        "message": {"type": "string", "minLength": 1},
        "targetIds": {"type": "array", "items": {"type": "string"}}
      }
    },
    "adapterHealth": {
      "type": "object",
      "additionalProperties": false,
      "required": ["configured", "active", "failed"],
      "properties": {
        "configured": {"type": "array", "items": {"type": "string"}},
        "active": {"type": "array", "items": {"type": "string"}},
        "failed": {"type": "array", "items": {"type": "string"}},
        "stats": {"type": "object", "additionalProperties": {"$ref": "#/$defs/adapterStats"}}
      }
    },
    "adapterStats": {
      "type": "object",
      "additionalProperties": false,
      "required": ["attempted", "succeeded", "failed", "warnings"],
      "properties": {
        "attempted": {"type": "integer", "minimum": 0},
        "succeeded": {"type": "integer", "minimum": 0},
        "failed": {"type": "integer", "minimum": 0},
        "warnings": {"type": "integer", "minimum": 0}
      }
    },
    "summary": {
      "type": "object",
      "additionalProperties": false,
      "required": ["passedHardGates", "failedHardGates"],
      "properties": {
        "passedHardGates": {"type": "integer", "minimum": 0},
        "failedHardGates": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const selectionLockSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["contractVersion", "targets"],
  "properties": {
    "contractVersion": {"type": "string", "const": "__VERSION__"},
    "runId": {"type": "string"},
    "targets": {"type": "array", "items": {"$ref": "#/$defs/lockEntry"}}
  },
  "$defs": {
    "lockEntry": {
      "type": "object",
      "additionalProperties": false,
      "required": ["targetId", "approved", "inputHash", "selectedOutputPath", "provider", "finalScore"],
      "properties": {
        "targetId": {"type": "string", "minLength": 1},
        "approved": {"type": "boolean"},
        "inputHash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
        "selectedOutputPath": {"type": "string", "minLength": 1},
        "provider": {"enum": __PROVIDERS__},
        "model": {"type": "string"},
        "finalScore": {"type": "number"}
      }
    }
  }
}`

// SchemaJSON returns the schema source for a kind, with the version pin
// resolved. The service exposes these for introspection.
func SchemaJSON(kind Kind) (string, bool) {
	src, ok := schemaSources[kind]
	if !ok {
		return "", false
	}
	return expandSchema(src), true
}

var schemaSources = map[Kind]string{
	KindTargetsIndex:     targetsIndexSchema,
	KindProvenanceRun:    provenanceRunSchema,
	KindAcceptanceReport: acceptanceReportSchema,
	KindEvalReport:       evalReportSchema,
	KindSelectionLock:    selectionLockSchema,
}

func expandSchema(src string) string {
	s := strings.ReplaceAll(src, "__VERSION__", ContractVersion)
	return strings.ReplaceAll(s, "__PROVIDERS__", providerEnum)
}

// compiledSchemas holds one compiled validator per kind, built once at
// package init. The schema sources are constants, so a compile failure is
// a programmer error.
var compiledSchemas = func() map[Kind]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	out := make(map[Kind]*jsonschema.Schema, len(schemaSources))
	for kind, src := range schemaSources {
		url := fmt.Sprintf("https://lootforge.schemas.local/%s.schema.json", kind)
		if err := compiler.AddResource(url, strings.NewReader(expandSchema(src))); err != nil {
			panic(fmt.Sprintf("contract: add %s schema: %v", kind, err))
		}
	}
	for kind := range schemaSources {
		url := fmt.Sprintf("https://lootforge.schemas.local/%s.schema.json", kind)
		schema, err := compiler.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("contract: compile %s schema: %v", kind, err))
		}
		out[kind] = schema
	}
	return out
}()
