package http

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
)

// APIVersion is reported in the capabilities document.
const APIVersion = "1.0.0"

var (
	capabilitiesOnce sync.Once
	capabilitiesDoc  *openapi3.T
)

// Capabilities returns the OpenAPI description of the public API.
// GET /api/capabilities
func (h *Handler) Capabilities(c echo.Context) error {
	capabilitiesOnce.Do(func() { capabilitiesDoc = CapabilitiesDocument() })
	return c.JSON(http.StatusOK, capabilitiesDoc)
}

// CapabilitiesDocument builds the OpenAPI document for every route RegisterRoutes
// installs.
func CapabilitiesDocument() *openapi3.T {
	str := openapi3.NewStringSchema
	errorBody := openapi3.NewObjectSchema().
		WithProperty("error", str()).
		WithProperty("field", str()).
		WithProperty("txStatus", str())
	payment := openapi3.NewObjectSchema().
		WithProperty("amount", str()).
		WithProperty("amountBaseUnits", str()).
		WithProperty("token", str()).
		WithProperty("receiver", str()).
		WithProperty("network", str())

	chatBody := openapi3.NewObjectSchema().
		WithProperty("message", str()).
		WithProperty("sessionId", str())
	chatBody.Required = []string{"message"}

	confirmBody := openapi3.NewObjectSchema().
		WithProperty("sessionId", str()).
		WithProperty("txHash", str().WithPattern(`^[A-Za-z0-9_-]{10,128}$`))
	confirmBody.Required = []string{"sessionId", "txHash"}

	uploadBody := openapi3.NewObjectSchema().
		WithProperty("file", str().WithFormat("binary")).
		WithProperty("sessionId", str())
	uploadBody.Required = []string{"file"}

	jobID := openapi3.NewPathParameter("jobId").WithSchema(str().WithPattern(`^job_[a-f0-9]{32}$`))
	sessionID := openapi3.NewPathParameter("sessionId").WithSchema(str())

	paths := openapi3.NewPaths()
	paths.Set("/api/chat", &openapi3.PathItem{
		Post: operation("sendMessage", "Send a chat message; unpaid sessions receive a payment challenge",
			nil, openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(chatBody),
			map[int]*openapi3.Response{
				http.StatusOK:              openapi3.NewResponse().WithDescription("Agent reply as server-sent events").WithContent(openapi3.NewContentWithSchema(str(), []string{"text/event-stream"})),
				http.StatusPaymentRequired: jsonResponse("Payment challenge", openapi3.NewObjectSchema().WithProperty("sessionId", str()).WithProperty("payment", payment).WithProperty("message", str())),
				http.StatusBadRequest:      jsonResponse("Invalid message", errorBody),
			}),
	})
	paths.Set("/api/chat/ws", &openapi3.PathItem{
		Get: operation("chatSocket", "WebSocket chat with chat and confirm_payment frames", nil, nil,
			map[int]*openapi3.Response{
				http.StatusSwitchingProtocols: openapi3.NewResponse().WithDescription("Upgraded"),
			}),
	})
	paths.Set("/api/chat/confirm-payment", &openapi3.PathItem{
		Post: operation("confirmPayment", "Verify a payment reference and unlock the session",
			nil, openapi3.NewRequestBody().WithRequired(true).WithJSONSchema(confirmBody),
			map[int]*openapi3.Response{
				http.StatusOK:         jsonResponse("Payment confirmed", openapi3.NewObjectSchema().WithProperty("status", str()).WithProperty("sessionId", str()).WithProperty("jobId", str()).WithProperty("txStatus", str()).WithProperty("alreadyConfirmed", openapi3.NewBoolSchema())),
				http.StatusBadRequest: jsonResponse("Invalid request or verification failed", errorBody),
				http.StatusNotFound:   jsonResponse("Unknown session", errorBody),
			}),
	})
	paths.Set("/api/upload", &openapi3.PathItem{
		Post: operation("uploadFile", "Upload a file, optionally attached to a session",
			nil, openapi3.NewRequestBody().WithRequired(true).WithFormDataSchema(uploadBody),
			map[int]*openapi3.Response{
				http.StatusOK:         jsonResponse("Stored", openapi3.NewObjectSchema().WithProperty("fileId", str()).WithProperty("filename", str()).WithProperty("size", openapi3.NewInt64Schema())),
				http.StatusBadRequest: jsonResponse("Rejected", errorBody),
			}),
	})
	paths.Set("/api/download/{jobId}", &openapi3.PathItem{
		Get: operation("downloadReport", "Download the report produced by a job",
			openapi3.Parameters{{Value: jobID}}, nil,
			map[int]*openapi3.Response{
				http.StatusOK:         openapi3.NewResponse().WithDescription("Markdown report").WithContent(openapi3.NewContentWithSchema(str(), []string{"text/markdown"})),
				http.StatusBadRequest: jsonResponse("Malformed job id", errorBody),
				http.StatusNotFound:   jsonResponse("No report", errorBody),
			}),
	})
	paths.Set("/api/sessions", &openapi3.PathItem{
		Get: operation("listSessions", "List live sessions", nil, nil,
			map[int]*openapi3.Response{http.StatusOK: jsonResponse("Sessions", openapi3.NewObjectSchema())}),
	})
	paths.Set("/api/sessions/{sessionId}", &openapi3.PathItem{
		Get: operation("getSession", "Get a session with its transcript",
			openapi3.Parameters{{Value: sessionID}}, nil,
			map[int]*openapi3.Response{
				http.StatusOK:       jsonResponse("Session", openapi3.NewObjectSchema()),
				http.StatusNotFound: jsonResponse("Unknown session", errorBody),
			}),
		Delete: operation("deleteSession", "Delete a session",
			openapi3.Parameters{{Value: sessionID}}, nil,
			map[int]*openapi3.Response{
				http.StatusNoContent: openapi3.NewResponse().WithDescription("Deleted"),
				http.StatusNotFound:  jsonResponse("Unknown session", errorBody),
			}),
	})
	paths.Set("/api/jobs/{jobId}", &openapi3.PathItem{
		Get: operation("getJob", "Poll the status of a paid job",
			openapi3.Parameters{{Value: jobID}}, nil,
			map[int]*openapi3.Response{
				http.StatusOK:         jsonResponse("Job", openapi3.NewObjectSchema().WithProperty("jobId", str()).WithProperty("status", str()).WithProperty("isComplete", openapi3.NewBoolSchema()).WithProperty("shouldContinue", openapi3.NewBoolSchema())),
				http.StatusBadRequest: jsonResponse("Malformed job id", errorBody),
				http.StatusNotFound:   jsonResponse("Unknown job", errorBody),
			}),
	})
	paths.Set("/api/agent", &openapi3.PathItem{
		Get: operation("getAgent", "Agent profile and pricing", nil, nil,
			map[int]*openapi3.Response{http.StatusOK: jsonResponse("Profile", openapi3.NewObjectSchema().WithProperty("name", str()).WithProperty("description", str()).WithProperty("pricing", payment))}),
	})
	paths.Set("/api/health", &openapi3.PathItem{
		Get: operation("health", "Service health", nil, nil,
			map[int]*openapi3.Response{
				http.StatusOK:                 jsonResponse("Healthy", openapi3.NewObjectSchema().WithProperty("status", str())),
				http.StatusServiceUnavailable: jsonResponse("Degraded", openapi3.NewObjectSchema().WithProperty("status", str())),
			}),
	})
	paths.Set("/api/capabilities", &openapi3.PathItem{
		Get: operation("capabilities", "This document", nil, nil,
			map[int]*openapi3.Response{http.StatusOK: jsonResponse("OpenAPI document", openapi3.NewObjectSchema())}),
	})

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "paygate",
			Description: "Payment-gated conversational agent gateway",
			Version:     APIVersion,
		},
		Paths: paths,
	}
}

func operation(id, summary string, params openapi3.Parameters, body *openapi3.RequestBody, responses map[int]*openapi3.Response) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Parameters = params
	if body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{Value: body}
	}
	op.Responses = openapi3.NewResponsesWithCapacity(len(responses))
	for status, resp := range responses {
		op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})
	}
	return op
}

func jsonResponse(description string, schema *openapi3.Schema) *openapi3.Response {
	return openapi3.NewResponse().WithDescription(description).WithJSONSchema(schema)
}
