// Package docs registers the OpenAPI document served under /swagger/.
// Regenerate with `swag init -g cmd/llamacore/docs.go -o internal/httpapi/docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/completion": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "summary": "Native completion",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.CompletionRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CompletionResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/chat/completions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "summary": "OpenAI-compatible chat completion",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.ChatRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OAIChatCompletion"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/v1/embeddings": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "OpenAI-compatible embeddings",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.EmbeddingRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OAIEmbeddingResponse"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Manager status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.CompletionRequest": {"type": "object", "properties": {"prompt": {}, "stream": {"type": "boolean"}, "n_predict": {"type": "integer"}, "model": {"type": "string"}}},
        "types.CompletionResponse": {"type": "object", "properties": {"content": {"type": "string"}, "stop": {"type": "boolean"}, "tokens_predicted": {"type": "integer"}}},
        "types.ChatRequest": {"type": "object", "properties": {"messages": {"type": "array", "items": {"type": "object"}}, "stream": {"type": "boolean"}, "model": {"type": "string"}}},
        "types.OAIChatCompletion": {"type": "object", "properties": {"id": {"type": "string"}, "object": {"type": "string"}, "model": {"type": "string"}}},
        "types.EmbeddingRequest": {"type": "object", "properties": {"input": {}, "encoding_format": {"type": "string"}}},
        "types.OAIEmbeddingResponse": {"type": "object", "properties": {"object": {"type": "string"}, "data": {"type": "array", "items": {"type": "object"}}}},
        "types.StatusResponse": {"type": "object", "properties": {"budget_mb": {"type": "integer"}, "used_est_mb": {"type": "integer"}, "instances": {"type": "array", "items": {"type": "object"}}}},
        "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "object", "properties": {"code": {"type": "integer"}, "message": {"type": "string"}, "type": {"type": "string"}}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "llamacore API",
	Description:      "HTTP API for llama.cpp-style completion, chat and embeddings with on-demand model loading.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
