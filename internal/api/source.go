package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/duckmesh-source/internal/auth"
	"github.com/duckmesh/duckmesh-source/internal/connector"
	"github.com/duckmesh/duckmesh-source/internal/engine"
	"github.com/duckmesh/duckmesh-source/internal/ndjson"
	"github.com/duckmesh/duckmesh-source/internal/observability"
)

type datasetsRequest struct {
	Descriptor  string              `json:"descriptor"`
	Credentials *credentialsRequest `json:"credentials"`
	BatchSize   int                 `json:"batch_size"`
}

type queryRequest struct {
	SQL       string `json:"sql"`
	BatchSize int    `json:"batch_size"`
}

type connectionTestRequest struct {
	Credentials *credentialsRequest `json:"credentials"`
	Location    string              `json:"location"`
}

func handleDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SOURCE_NOT_CONFIGURED", "connector is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleSourceReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request datasetsRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	if request.BatchSize < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BATCH_SIZE", "batch_size must be positive", false, nil)
		return
	}

	c := *deps.Connector
	if request.BatchSize > 0 {
		c.BatchSize = request.BatchSize
	}
	creds := request.Credentials.resolve(c.Engine.Credentials)
	run, err := c.Run(r.Context(), request.Descriptor, creds)
	if err != nil {
		writeRunError(r.Context(), w, creds, err)
		return
	}
	out := newEventWriter(w, creds)
	if err := ndjson.EmitEnumeration(r.Context(), out, run, c.Policy); err != nil {
		logStreamFailure(r.Context(), deps.Logger, err, creds)
	}
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SOURCE_NOT_CONFIGURED", "connector is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleSourceReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	creds := deps.Connector.Engine.Credentials
	result, err := deps.Connector.Query(r.Context(), request.SQL, request.BatchSize)
	if err != nil {
		if errors.Is(err, connector.ErrEmptyQuery) {
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false,
			map[string]any{"details": creds.Redact(err.Error())})
		return
	}
	out := newEventWriter(w, creds)
	if err := ndjson.EmitQuery(out, result); err != nil {
		logStreamFailure(r.Context(), deps.Logger, err, creds)
	}
}

func handleConnectionTest(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Connector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SOURCE_NOT_CONFIGURED", "connector is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r, auth.RoleConnectionTester); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request connectionTestRequest
	if !decodeRequest(w, r, &request) {
		return
	}
	creds := request.Credentials.resolve(deps.Connector.Engine.Credentials)
	writeJSON(w, http.StatusOK, deps.Connector.TestConnection(r.Context(), creds, request.Location))
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeRunError(ctx context.Context, w http.ResponseWriter, creds engine.Credentials, err error) {
	details := map[string]any{"details": creds.Redact(err.Error())}
	switch {
	case errors.Is(err, connector.ErrNotDescriptor):
		writeError(ctx, w, http.StatusBadRequest, "NOT_A_DESCRIPTOR", "file is not a dataset descriptor", false, details)
	case errors.Is(err, connector.ErrConfiguration):
		writeError(ctx, w, http.StatusBadRequest, "CONFIGURATION_ERROR", "descriptor could not be loaded", false, details)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "RUN_FAILED", "enumeration failed to start", true, details)
	}
}

func logStreamFailure(ctx context.Context, logger *slog.Logger, err error, creds engine.Credentials) {
	if logger == nil {
		return
	}
	logger.WarnContext(ctx, "source stream failed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("error", creds.Redact(err.Error())),
	)
}

// newEventWriter starts an NDJSON response and flushes after every event so
// batches reach the client as they are produced.
func newEventWriter(w http.ResponseWriter, creds engine.Credentials) *ndjson.Writer {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	return ndjson.NewWriter(w, creds, http.NewResponseController(w).Flush)
}
