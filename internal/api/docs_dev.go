//go:build !embed_openapi

package api

import "os"

// openAPILoad reads the document from the working tree. Builds tagged
// embed_openapi compile the file in instead.
func openAPILoad() ([]byte, error) { return os.ReadFile("openapi/openapi.yaml") }
