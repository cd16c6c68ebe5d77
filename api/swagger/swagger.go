// Package swagger carries the hand-maintained OpenAPI document served
// at /docs outside production.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Shule API",
        "description": "School management API: timetabling, fees and M-Pesa payments",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Timetable", "description": "Lesson slots and conflict detection"},
        {"name": "Fees", "description": "Fee records, defaulters and reminders"},
        {"name": "Payments", "description": "M-Pesa and manual payments"},
        {"name": "M-Pesa", "description": "Daraja webhook endpoints"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unreachable"}
                }
            }
        },
        "/timetable/slots": {
            "get": {
                "tags": ["Timetable"],
                "summary": "List time slots",
                "parameters": [
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "day", "in": "query", "type": "string"},
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Timetable"],
                "summary": "Create time slot",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SlotRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"},
                    "409": {"description": "Scheduling conflict"}
                }
            }
        },
        "/timetable/slots/bulk": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Create multiple slots sequentially",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkSlotsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Per-slot results", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/slots/{id}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Get time slot",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Timetable"],
                "summary": "Update time slot",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"},
                    "409": {"description": "Scheduling conflict"}
                }
            },
            "delete": {
                "tags": ["Timetable"],
                "summary": "Delete time slot",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Deleted"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/timetable/check": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Dry-run conflict check",
                "parameters": [
                    {"name": "excludeId", "in": "query", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "Conflict report"}
                }
            }
        },
        "/timetable/class/{classId}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Class timetable grouped by day",
                "parameters": [
                    {"name": "classId", "in": "path", "required": true, "type": "string"},
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "delete": {
                "tags": ["Timetable"],
                "summary": "Clear a class timetable",
                "parameters": [
                    {"name": "classId", "in": "path", "required": true, "type": "string"},
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Deleted count"}
                }
            }
        },
        "/timetable/teacher/{teacherId}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Teacher timetable grouped by day",
                "parameters": [
                    {"name": "teacherId", "in": "path", "required": true, "type": "string"},
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/timetable/statistics": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Slot counts per class, teacher and day",
                "parameters": [
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/fees": {
            "get": {
                "tags": ["Fees"],
                "summary": "List fee records",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/fees/{id}": {
            "get": {
                "tags": ["Fees"],
                "summary": "Get fee record",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/fees/generate": {
            "post": {
                "tags": ["Fees"],
                "summary": "Generate term fee records for a grade",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateFeeRecordsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created records"},
                    "400": {"description": "Validation error"}
                }
            }
        },
        "/fees/defaulters": {
            "get": {
                "tags": ["Fees"],
                "summary": "List students with outstanding balances",
                "parameters": [
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/fees/defaulters/export": {
            "get": {
                "tags": ["Fees"],
                "summary": "Export defaulters as CSV",
                "produces": ["text/csv"],
                "parameters": [
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "CSV attachment"}
                }
            }
        },
        "/fees/defaulters/remind": {
            "post": {
                "tags": ["Fees"],
                "summary": "Send SMS reminders to defaulters",
                "parameters": [
                    {"name": "academicYear", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Delivery summary"},
                    "503": {"description": "SMS provider not configured"}
                }
            }
        },
        "/fees/overdue": {
            "post": {
                "tags": ["Fees"],
                "summary": "Mark unpaid records overdue past a cutoff",
                "parameters": [
                    {"name": "cutoff", "in": "query", "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "Updated count"}
                }
            }
        },
        "/payments": {
            "get": {
                "tags": ["Payments"],
                "summary": "List payments",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "method", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{id}": {
            "get": {
                "tags": ["Payments"],
                "summary": "Get payment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/payments/{id}/status": {
            "get": {
                "tags": ["Payments"],
                "summary": "Query provider-side payment status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Local and provider status"}
                }
            }
        },
        "/payments/{id}/receipt": {
            "get": {
                "tags": ["Payments"],
                "summary": "Download payment receipt PDF",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF attachment"},
                    "400": {"description": "Payment not completed"}
                }
            }
        },
        "/payments/mpesa/stk": {
            "post": {
                "tags": ["Payments"],
                "summary": "Initiate an STK push payment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/STKPaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Pending payment created"},
                    "503": {"description": "Provider unavailable"}
                }
            }
        },
        "/payments/manual": {
            "post": {
                "tags": ["Payments"],
                "summary": "Record a cash or bank payment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualPaymentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Payment recorded"}
                }
            }
        },
        "/payments/stats": {
            "get": {
                "tags": ["Payments"],
                "summary": "Payment totals by status and method",
                "parameters": [
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/payments/reconcile": {
            "post": {
                "tags": ["Payments"],
                "summary": "Reconcile stale pending payments against the provider",
                "responses": {
                    "200": {"description": "Resolved count"}
                }
            }
        },
        "/mpesa/callback": {
            "post": {
                "tags": ["M-Pesa"],
                "summary": "STK push result callback",
                "responses": {
                    "200": {"description": "Always acknowledged"}
                }
            }
        },
        "/mpesa/c2b/validation": {
            "post": {
                "tags": ["M-Pesa"],
                "summary": "C2B validation hook",
                "responses": {
                    "200": {"description": "Always acknowledged"}
                }
            }
        },
        "/mpesa/c2b/confirmation": {
            "post": {
                "tags": ["M-Pesa"],
                "summary": "C2B paybill confirmation",
                "responses": {
                    "200": {"description": "Always acknowledged"}
                }
            }
        }
    },
    "definitions": {
        "SlotRequest": {
            "type": "object",
            "required": ["class_id", "subject_id", "teacher_id", "day_of_week", "start_time", "end_time", "academic_year", "term"],
            "properties": {
                "class_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "day_of_week": {"type": "string", "enum": ["MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"]},
                "start_time": {"type": "string", "example": "08:00"},
                "end_time": {"type": "string", "example": "09:00"},
                "room": {"type": "string"},
                "academic_year": {"type": "string", "example": "2026"},
                "term": {"type": "integer", "minimum": 1, "maximum": 3}
            }
        },
        "BulkSlotsRequest": {
            "type": "object",
            "required": ["slots"],
            "properties": {
                "slots": {"type": "array", "items": {"$ref": "#/definitions/SlotRequest"}}
            }
        },
        "GenerateFeeRecordsRequest": {
            "type": "object",
            "required": ["grade", "academic_year", "term", "total_amount"],
            "properties": {
                "grade": {"type": "string"},
                "academic_year": {"type": "string"},
                "term": {"type": "integer"},
                "total_amount": {"type": "string", "example": "15000.00"},
                "due_date": {"type": "string", "format": "date-time"}
            }
        },
        "STKPaymentRequest": {
            "type": "object",
            "required": ["student_id", "phone", "amount"],
            "properties": {
                "student_id": {"type": "string"},
                "fee_record_id": {"type": "string"},
                "phone": {"type": "string", "example": "0712345678"},
                "amount": {"type": "string", "example": "5000.00"},
                "paid_by": {"type": "string"}
            }
        },
        "ManualPaymentRequest": {
            "type": "object",
            "required": ["student_id", "fee_record_id", "amount", "method"],
            "properties": {
                "student_id": {"type": "string"},
                "fee_record_id": {"type": "string"},
                "amount": {"type": "string"},
                "method": {"type": "string", "enum": ["CASH", "BANK_TRANSFER"]},
                "reference": {"type": "string"},
                "paid_by": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
