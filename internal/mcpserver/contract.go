package mcpserver

// ArtifactFormatContract describes the YAML record format that LLM
// consumers should follow when creating artifacts.
const ArtifactFormatContract = `# Kodebase Artifact Format Contract

Every artifact is one YAML file. Its ID encodes its place in the hierarchy:

- Initiative: one or more capital letters (` + "`" + `A` + "`" + `, ` + "`" + `AB` + "`" + `)
- Milestone: initiative ID plus a number (` + "`" + `A.1` + "`" + `)
- Issue: milestone ID plus a number (` + "`" + `A.1.3` + "`" + `)

The file lives at ` + "`" + `<initiative>/<milestone>/<issue>.yml` + "`" + `, e.g. ` + "`" + `A/A.1/A.1.3.yml` + "`" + `.
The parent of a new artifact must already exist.

## Structure

` + "```" + `yaml
id: A.1.3
metadata:
  title: Add login form                    # REQUIRED
  priority: high                           # critical | high | medium | low
  estimation: S                            # XS | S | M | L | XL
  created_by: Ada Lovelace (ada@example.com)
  assignee: Ada Lovelace (ada@example.com)
  schema_version: 0.2.0
  relationships:
    blocks: []                             # IDs this artifact blocks
    blocked_by: [A.1.2]                    # IDs that must complete first
  events:
    - event: draft
      timestamp: 2025-01-15T10:00:00Z
      actor: Ada Lovelace (ada@example.com)
      trigger: artifact_created
content:
  summary: Users can sign in with email and password.
  acceptance_criteria:
    - Form validates email format
` + "```" + `

## Rules

1. **Key order is fixed:** ` + "`" + `id` + "`" + `, ` + "`" + `metadata` + "`" + `, ` + "`" + `content` + "`" + `.
2. **Events are append-only.** The first event is always ` + "`" + `draft` + "`" + ` with trigger
   ` + "`" + `artifact_created` + "`" + `. Do not edit or reorder events; use the ` + "`" + `transition` + "`" + ` tool.
3. **Timestamps** are UTC, formatted ` + "`" + `YYYY-MM-DDTHH:MM:SSZ` + "`" + `.
4. **Actors** are formatted ` + "`" + `Name (email)` + "`" + `.
5. **Relationships are two-sided.** If A.1.2 lists A.1.3 in ` + "`" + `blocks` + "`" + `, A.1.3 must list
   A.1.2 in ` + "`" + `blocked_by` + "`" + `. Use the ` + "`" + `link` + "`" + ` tool to keep both sides in sync.
6. **No cycles and no cross-level links.** Issues depend on issues or on their own
   milestone, milestones on milestones or issues, initiatives only on initiatives.
7. **Content by level:**
   - Initiative: ` + "`" + `vision` + "`" + `, ` + "`" + `scope.in` + "`" + `, ` + "`" + `scope.out` + "`" + `, ` + "`" + `success_criteria` + "`" + `
   - Milestone: ` + "`" + `summary` + "`" + `, ` + "`" + `deliverables` + "`" + `, ` + "`" + `validation` + "`" + `
   - Issue: ` + "`" + `summary` + "`" + `, ` + "`" + `acceptance_criteria` + "`" + `
8. **Encoding** is UTF-8, two-space indentation, no trailing whitespace, trailing newline.

## States

` + "`" + `draft` + "`" + ` → ` + "`" + `ready` + "`" + ` | ` + "`" + `blocked` + "`" + ` → ` + "`" + `in_progress` + "`" + ` → ` + "`" + `in_review` + "`" + ` → ` + "`" + `completed` + "`" + ` → ` + "`" + `archived` + "`" + `.
Any non-terminal state may move to ` + "`" + `cancelled` + "`" + `. Completing an issue readies its
dependents; starting one starts its milestone and initiative.
`
