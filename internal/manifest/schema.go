package manifest

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lootforge/internal/contract"
)

// The manifest schema is strict: authored documents with unknown fields
// fail fast instead of silently dropping knobs. Ergonomics are not a
// goal; predictability is.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["packId", "targets"],
  "properties": {
    "packId": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "defaultProvider": {"enum": ["openai", "nano", "local"]},
    "providers": {"type": "object", "additionalProperties": {"$ref": "#/$defs/providerSettings"}},
    "styleKits": {"type": "object", "additionalProperties": {"$ref": "#/$defs/styleKit"}},
    "consistencyGroups": {"type": "object", "additionalProperties": {"$ref": "#/$defs/consistencyGroup"}},
    "evaluationProfiles": {"type": "object", "additionalProperties": {"$ref": "#/$defs/evaluationProfile"}},
    "atlasGroups": {"type": "object", "additionalProperties": {"$ref": "#/$defs/atlasGroup"}},
    "targets": {"type": "array", "minItems": 1, "items": {"$ref": "#/$defs/target"}}
  },
  "$defs": {
    "providerSettings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "endpoint": {"type": "string"},
        "model": {"type": "string"},
        "timeoutMs": {"type": "integer", "minimum": 1},
        "maxRetries": {"type": "integer", "minimum": 0},
        "minDelayMs": {"type": "integer", "minimum": 0},
        "defaultConcurrency": {"type": "integer", "minimum": 1}
      }
    },
    "styleKit": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "stylePreset": {"type": "string"},
        "styleRules": {"type": "array", "items": {"type": "string"}},
        "refImages": {"type": "array", "items": {"type": "string"}},
        "palettePath": {"type": "string"}
      }
    },
    "consistencyGroup": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "styleKit": {"type": "string"},
        "identityPrompt": {"type": "string"},
        "constraints": {"type": "array", "items": {"type": "string"}},
        "outlierWarnThreshold": {"type": "number", "minimum": 0}
      }
    },
    "evaluationProfile": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "textureBudgetKB": {"type": "integer", "minimum": 1},
        "weights": {"type": "object", "additionalProperties": {"type": "number"}},
        "sheetDriftWarn": {"type": "number", "minimum": 0},
        "sheetDriftError": {"type": "number", "minimum": 0}
      }
    },
    "atlasGroup": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxWidth": {"type": "integer", "minimum": 1},
        "maxHeight": {"type": "integer", "minimum": 1},
        "padding": {"type": "integer", "minimum": 0}
      }
    },
    "target": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "kind", "out", "promptSpec"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "kind": {"enum": ["sprite", "tile", "background", "effect", "spritesheet"]},
        "out": {"type": "string", "minLength": 1},
        "provider": {"enum": ["openai", "nano", "local"]},
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
        "spritesheet": {"$ref": "#/$defs/spritesheetSpec"},
        "regenerationSource": {"$ref": "#/$defs/regenRef"}
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
        "fallbackProviders": {"type": "array", "items": {"enum": ["openai", "nano", "local"]}},
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
        "algorithm": {"type": "string"},
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
    "spritesheetSpec": {
      "type": "object",
      "additionalProperties": false,
      "required": ["frameSize", "animations"],
      "properties": {
        "frameSize": {"type": "string", "pattern": "^\\d+x\\d+$"},
        "animations": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["name", "frames"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "frames": {"type": "integer", "minimum": 1},
              "prompt": {"type": "string"},
              "fps": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    },
    "regenRef": {
      "type": "object",
      "additionalProperties": false,
      "required": ["lockPath"],
      "properties": {
        "lockPath": {"type": "string", "minLength": 1},
        "targetId": {"type": "string"}
      }
    }
  }
}`

var compiledManifestSchema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const url = "https://lootforge.schemas.local/manifest.schema.json"
	if err := compiler.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		panic("manifest: add schema: " + err.Error())
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic("manifest: compile schema: " + err.Error())
	}
	return schema
}()

// ValidateSchema structurally validates raw manifest bytes. A nil return
// means the document matches the authored-manifest schema; semantic
// validation (uniqueness, path safety, capability checks) is the
// planner's job.
func ValidateSchema(raw []byte) []contract.Diagnostic {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return []contract.Diagnostic{{Path: "$", Code: "json", Message: err.Error()}}
	}
	if err := compiledManifestSchema.Validate(decoded); err != nil {
		return contract.SchemaDiagnostics(err)
	}
	return nil
}
