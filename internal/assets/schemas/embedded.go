// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time to ensure the CLI and library work
// correctly regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// CampaignPlanSchema is the embedded campaign-plan JSON schema.
//
// This allows plan validation to work in installed binaries and library
// consumers without requiring the schema files to be present on disk.
//
//go:embed campaign-plan.schema.json
var CampaignPlanSchema []byte
