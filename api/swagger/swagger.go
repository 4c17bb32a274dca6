package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Classroom Sync API",
        "description": "Cached, fail-open aggregation of classroom courses, submissions and schedules.",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "SessionToken": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Sync",
            "description": "Cached classroom views"
        },
        {
            "name": "Overlay",
            "description": "Local student class overlay"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "A dependency is down"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/metrics/sync": {
            "get": {
                "summary": "Sync counters summary",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/courses": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "List courses with at least one student",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseIds",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated course ids"
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/courses/{courseId}/aggregate": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Course roster, coursework, submissions and topics",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/courses/{courseId}/todo": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Pending submissions for one course",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/todo": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Pending submissions grouped by course",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseIds",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated course ids"
                    },
                    {
                        "name": "hiddenTopicIds",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated topic ids to hide"
                    },
                    {
                        "name": "sort",
                        "in": "query",
                        "type": "string",
                        "description": "due orders items by due date"
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/todo/export": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Download pending submissions",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "description": "csv or pdf"
                    },
                    {
                        "name": "courseIds",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated course ids"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File",
                        "schema": {
                            "type": "file"
                        }
                    },
                    "400": {
                        "description": "Unsupported format",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/stream": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Recent announcements across courses",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseIds",
                        "in": "query",
                        "type": "string",
                        "description": "Comma separated course ids"
                    },
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/schedule": {
            "get": {
                "tags": [
                    "Sync"
                ],
                "summary": "Calendar events for the recent window",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "force",
                        "in": "query",
                        "type": "boolean",
                        "description": "Bypass the view cache"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "401": {
                        "description": "Authentication required",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "502": {
                        "description": "Upstream unavailable",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/sync/cache": {
            "delete": {
                "tags": [
                    "Sync"
                ],
                "summary": "Drop every cached view of the caller",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                }
            }
        },
        "/api/v1/overlays": {
            "get": {
                "tags": [
                    "Overlay"
                ],
                "summary": "List class overlays",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "group",
                        "in": "query",
                        "type": "string"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/overlays/{studentId}": {
            "get": {
                "tags": [
                    "Overlay"
                ],
                "summary": "Get a student's class overlay",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "put": {
                "tags": [
                    "Overlay"
                ],
                "summary": "Create or replace a student's class overlay",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UpsertOverlayRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Overlay"
                ],
                "summary": "Remove a student's class overlay",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "studentId",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/overlay-groups/{group}": {
            "delete": {
                "tags": [
                    "Overlay"
                ],
                "summary": "Remove every overlay of an import group",
                "security": [
                    {
                        "SessionToken": []
                    }
                ],
                "parameters": [
                    {
                        "name": "group",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "UpsertOverlayRequest": {
            "type": "object",
            "required": [
                "className",
                "groupName"
            ],
            "properties": {
                "className": {
                    "type": "string"
                },
                "groupName": {
                    "type": "string"
                }
            }
        },
        "SyncMeta": {
            "type": "object",
            "properties": {
                "cache_hit": {
                    "type": "boolean"
                },
                "fetched_at": {
                    "type": "string",
                    "format": "date-time"
                },
                "stale": {
                    "type": "boolean"
                },
                "partial": {
                    "type": "boolean"
                },
                "degraded_branches": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "refresh_queued": {
                    "type": "boolean"
                },
                "processing_time_ms": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "meta": {
                    "$ref": "#/definitions/SyncMeta"
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
