//go:build embed_openapi

package api

import "zonedispatch/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
