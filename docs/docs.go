// Package docs registers the swagger document of the trip API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/guest": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Issue a guest token",
                "parameters": [
                    {"description": "guest name", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.GuestRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.LoginResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/auth/send-code": {
            "post": {
                "description": "Stores a 6-digit code for the email and queues it for delivery. In development the code is returned in the body.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Send a one-time login code",
                "parameters": [
                    {"description": "email", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.SendCodeRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/model.SendCodeResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/auth/verify-code": {
            "post": {
                "description": "Spends the code, gets or creates the user by email and issues an access token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Log in with a login code",
                "parameters": [
                    {"description": "email and code", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.VerifyCodeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.LoginResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "List the caller's trips",
                "parameters": [
                    {"type": "integer", "description": "page (1-based)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "page size", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "object"}}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Accepts a JSON body, or multipart/form-data with the JSON in the \"trip\" field and an optional \"rewardImage\" file",
                "consumes": ["application/json", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Create a trip",
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Started trips also carry their experience slots and leaderboard",
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Get a trip",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Start a trip",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}/experiences/{index}": {
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "Open or close an experience of a started trip",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true},
                    {"type": "integer", "description": "experience index", "name": "index", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Writes the final leaderboard to the trip and clears its runtime state",
                "produces": ["application/json"],
                "tags": ["trips"],
                "summary": "End a trip",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}/participants": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["participants"],
                "summary": "Join a started trip",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.Participant"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/trips/{tripId}/leaderboard": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["participants"],
                "summary": "Live leaderboard",
                "parameters": [
                    {"type": "string", "description": "trip id", "name": "tripId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.LeaderboardEntry"}}}
                }
            }
        },
        "/map/directions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["map"],
                "summary": "Walking directions between stops",
                "parameters": [
                    {"type": "string", "description": "lon,lat;lon,lat;...", "name": "points", "in": "query", "required": true},
                    {"type": "string", "description": "instruction language", "name": "language", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}},
                "error": {"type": "string"}
            }
        },
        "model.GuestRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string", "maxLength": 50, "minLength": 1}}
        },
        "model.SendCodeRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {"email": {"type": "string"}}
        },
        "model.SendCodeResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "model.VerifyCodeRequest": {
            "type": "object",
            "required": ["code", "email"],
            "properties": {
                "code": {"type": "string", "maxLength": 6, "minLength": 6},
                "email": {"type": "string"}
            }
        },
        "model.Identity": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "id": {"type": "string"},
                "name": {"type": "string"},
                "role": {"type": "string"}
            }
        },
        "model.LoginResponse": {
            "type": "object",
            "properties": {
                "identity": {"$ref": "#/definitions/model.Identity"},
                "isNew": {"type": "boolean"},
                "token": {"type": "string"}
            }
        },
        "model.Participant": {
            "type": "object",
            "properties": {
                "finishedExperiences": {"type": "array", "items": {"type": "boolean"}},
                "imageUrl": {"type": "string"},
                "name": {"type": "string"},
                "role": {"type": "string"},
                "score": {"type": "array", "items": {"type": "integer"}},
                "userId": {"type": "string"}
            }
        },
        "model.LeaderboardEntry": {
            "type": "object",
            "properties": {
                "rank": {"type": "integer"},
                "score": {"type": "integer"},
                "userId": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "Trip Track API",
	Description:      "Live trip sessions: trips, participants, leaderboards and experiences.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
