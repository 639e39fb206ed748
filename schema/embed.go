package schema

import _ "embed"

// ManifestV1Schema contains the JSON schema for run manifests.
//
//go:embed fork.v1.json
var ManifestV1Schema []byte
