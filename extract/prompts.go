package extract

// unifiedPrompt requests entities, covariates, and typed relationships
// in a single structured call — the enhanced-mode optimization that
// halves LM cost relative to the legacy two-call path.
const unifiedPrompt = `You are a knowledge-graph extraction engine.
Given the following text chunk, extract entities and the typed relationships between them.

RELATIONSHIP TYPES (use exactly one of these values):
- hypernym   : source is a broader category containing target
- hyponym    : source is a more specific instance of target
- meronym    : source is a part of target
- holonym    : source contains target as a part
- synonym    : source and target name the same thing
- antonym    : source and target are opposites
- causal     : source causes or leads to target
- temporal   : source precedes or follows target in time
- dependency : source requires or depends on target
- reference  : source mentions or cites target
- generic    : a relationship that does not fit the above

Return a JSON object with exactly these two keys:
  "entities" : array of {"name": string, "type": string, "description": string, "covariates": object}
  "relationships" : array of {"source_name": string, "target_name": string, "relationship_type": string, "confidence": number, "description": string}

Rules:
- source_name and target_name must exactly match a "name" in the entities array.
- confidence is a float between 0.0 and 1.0.
- Only include entities and relationships clearly supported by the text.
- If there are none, return empty arrays.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// legacyEntityPrompt is the first of the two legacy-mode calls: entities
// only, each with name, type and description — the unified prompt's
// entity shape without covariates, and without the relationship half.
const legacyEntityPrompt = `You are a knowledge-graph extraction engine.
Given the following text chunk, extract all entities (people, organizations, concepts, terms).

Return a JSON object with exactly one key:
  "entities" : array of {"name": string, "type": string, "description": string}

Rules:
- Only include entities clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// legacyRelationshipPrompt is the second legacy-mode call: given the
// fixed entity set from the first call, extract untyped relationships.
// No relationship_type is requested; the shared response parser leaves
// the type empty, and validation records it as "generic".
const legacyRelationshipPrompt = `You are a knowledge-graph extraction engine.
Given the text and the list of known entities below, extract relationships between them.

KNOWN ENTITIES:
%s

Return a JSON object with exactly one key:
  "relationships" : array of {"source_name": string, "target_name": string, "confidence": number, "description": string}

Rules:
- source_name and target_name must be entity names from the KNOWN ENTITIES list above.
- confidence is a float between 0.0 and 1.0.
- Only include relationships clearly supported by the text.
- If there are none, return an empty array.
- Do NOT include any text outside the JSON object.

TEXT:
%s`
