package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Tutoring Ledger API",
        "description": "Attendance, payment and dashboard ledger for private tutors",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Ledger", "description": "Attendance, absence and payment reconciliation"},
        {"name": "Enrollments", "description": "Group membership and per-enrollment ledgers"},
        {"name": "Dashboard", "description": "Level, section and subject rollups"}
    ],
    "paths": {
        "/groups/{id}/attendance": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Mark attendance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/MarkResultEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Group or student not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No price configured", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}/attendance/unmark": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Unmark attendance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UnmarkRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/UnmarkResultEnvelope"}}
                }
            }
        },
        "/groups/{id}/absence": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Mark absence",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/MarkResultEnvelope"}}
                }
            }
        },
        "/groups/{id}/absence/unmark": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Unmark absence",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UnmarkRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/UnmarkResultEnvelope"}}
                }
            }
        },
        "/groups/{id}/payments": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Mark payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MarkPaymentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PaymentResultEnvelope"}},
                    "422": {"description": "No price configured", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}/payments/unmark": {
            "post": {
                "tags": ["Ledger"],
                "summary": "Unmark payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UnmarkRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/UnmarkResultEnvelope"}}
                }
            }
        },
        "/groups/{id}/enrollments": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll a student into a group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JoinGroupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}/enrollments/{studentId}": {
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Remove a student from a group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Removed"},
                    "404": {"description": "Not enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}/enrollments/{studentId}/sessions": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Enrollment ledger",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/dashboard": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Teacher dashboard",
                "parameters": [
                    {"name": "start_date", "in": "query", "type": "string", "format": "date"},
                    {"name": "end_date", "in": "query", "type": "string", "format": "date"},
                    {"name": "preset", "in": "query", "type": "string", "enum": ["this_week", "this_month", "this_year"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid window", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/dashboard/export": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Download the teacher dashboard",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "required": true, "type": "string", "enum": ["csv", "pdf"]},
                    {"name": "start_date", "in": "query", "type": "string", "format": "date"},
                    {"name": "end_date", "in": "query", "type": "string", "format": "date"},
                    {"name": "preset", "in": "query", "type": "string", "enum": ["this_week", "this_month", "this_year"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        }
    },
    "definitions": {
        "MarkSessionRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "automatic": {"type": "boolean"},
                "date": {"type": "string", "format": "date"},
                "start_time": {"type": "string", "example": "16:00"},
                "end_time": {"type": "string", "example": "17:30"}
            },
            "required": ["student_ids"]
        },
        "UnmarkRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "number_of_classes": {"type": "integer", "minimum": 1}
            },
            "required": ["student_ids", "number_of_classes"]
        },
        "MarkPaymentRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "number_of_classes": {"type": "integer", "minimum": 1},
                "payment_datetime": {"type": "string", "format": "date-time"}
            },
            "required": ["student_ids", "number_of_classes"]
        },
        "JoinGroupRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "date": {"type": "string", "format": "date"}
            },
            "required": ["student_id"]
        },
        "StudentException": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "image": {"type": "string"},
                "fullname": {"type": "string"}
            }
        },
        "MissingStudent": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "image": {"type": "string"},
                "fullname": {"type": "string"},
                "missing_number_of_classes": {"type": "integer"}
            }
        },
        "MarkResultEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {
                        "marked_count": {"type": "integer"},
                        "overlapping_students": {"type": "array", "items": {"$ref": "#/definitions/StudentException"}}
                    }
                }
            }
        },
        "UnmarkResultEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {
                        "completely_unmarked_count": {"type": "integer"},
                        "missing_students": {"type": "array", "items": {"$ref": "#/definitions/MissingStudent"}}
                    }
                }
            }
        },
        "PaymentResultEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object",
                    "properties": {
                        "marked_count": {"type": "integer"},
                        "paid_amount": {"type": "string", "example": "250"}
                    }
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
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
