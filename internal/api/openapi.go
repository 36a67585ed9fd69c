package api

import "net/http"

// handleOpenAPI serves the API description (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.deps.Metrics != nil, s.config.MetricsPath))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the export API.
func buildOpenAPIDoc(withMetrics bool, metricsPath string) map[string]any {
	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	paths := map[string]any{
		"/export": map[string]any{
			"get": map[string]any{
				"operationId": "exportTable",
				"summary":     "Export one table instance and publish the converted artifact",
				"tags":        []string{"export"},
				"parameters": []any{
					queryParam("table", "Table name", map[string]any{"type": "string"}),
					queryParam("table_id", "Table instance id", map[string]any{"type": "string", "format": "uuid"}),
				},
				"responses": map[string]any{
					"200": jsonResponse("Artifact published", exportSchema()),
					"400": jsonResponse("Missing or invalid table or table_id", errorSchema()),
					"401": jsonResponse("Missing or invalid caller identity", errorSchema()),
					"403": jsonResponse("Insufficient scope", errorSchema()),
					"404": jsonResponse("No rows for the table instance", errorSchema()),
					"429": jsonResponse("Per-caller rate limit exceeded", errorSchema()),
					"500": jsonResponse("Misconfiguration, conversion or upload failure", errorSchema()),
					"503": jsonResponse("Converter busy, retry after the Retry-After delay", errorSchema()),
				},
				"security": bearer,
			},
		},
		"/exports": map[string]any{
			"get": map[string]any{
				"operationId": "listExports",
				"summary":     "Recent export runs for the caller",
				"tags":        []string{"export"},
				"parameters": []any{
					queryParam("limit", "Maximum number of runs", map[string]any{"type": "integer", "minimum": 1}),
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Run history, newest first"},
					"400": jsonResponse("Invalid limit", errorSchema()),
				},
				"security": bearer,
			},
		},
		"/exports/events": map[string]any{
			"get": map[string]any{
				"operationId": "exportEvents",
				"summary":     "Server-Sent Events stream of the caller's export stages",
				"tags":        []string{"export"},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Event stream",
						"content":     map[string]any{"text/event-stream": map[string]any{}},
					},
				},
				"security": bearer,
			},
		},
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and converter lock status",
				"tags":        []string{"ops"},
				"responses":   map[string]any{"200": map[string]any{"description": "Service status"}},
			},
		},
	}
	if withMetrics {
		paths[metricsPath] = map[string]any{
			"get": map[string]any{
				"operationId": "metrics",
				"summary":     "Prometheus metrics",
				"tags":        []string{"ops"},
				"responses":   map[string]any{"200": map[string]any{"description": "Prometheus exposition"}},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Table Export Service",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func queryParam(name, description string, schema map[string]any) map[string]any {
	return map[string]any{
		"name":        name,
		"in":          "query",
		"required":    name != "limit",
		"description": description,
		"schema":      schema,
	}
}

func jsonResponse(description string, schema map[string]any) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func exportSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"success", "filePath", "downloadUrl"},
		"properties": map[string]any{
			"success":     map[string]any{"type": "boolean"},
			"filePath":    map[string]any{"type": "string"},
			"downloadUrl": map[string]any{"type": "string", "format": "uri"},
		},
	}
}

func errorSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"error"},
		"properties": map[string]any{
			"error":   map[string]any{"type": "string"},
			"details": map[string]any{"type": "string"},
			"debug":   map[string]any{"type": "string"},
		},
	}
}
