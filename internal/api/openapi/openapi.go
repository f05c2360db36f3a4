// Пакет openapi: встроенный OpenAPI-контракт HTTP API.
package openapi

import _ "embed"

// Spec: OpenAPI 3.0 документ /api/v1.
//
//go:embed openapi.yaml
var Spec []byte
