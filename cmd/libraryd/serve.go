package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/braindrive/library-service/internal/config"
	"github.com/braindrive/library-service/internal/errs"
	"github.com/braindrive/library-service/internal/logging"
	"github.com/braindrive/library-service/internal/schema"
	"github.com/braindrive/library-service/internal/scope"
	"github.com/braindrive/library-service/internal/tooldispatch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the library HTTP service",
	RunE:  runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8088, "HTTP listen port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Path: cfg.OperationalLogPath})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/v1/tools", identityMiddleware(cfg, log, http.HandlerFunc(handleToolCatalog)))
	mux.Handle("/v1/tools/", identityMiddleware(cfg, log, http.HandlerFunc(handleTool)))

	addr := fmt.Sprintf(":%d", servePort)
	log.Info("starting libraryd", "addr", addr, "libraryPath", cfg.LibraryPath)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return server.ListenAndServe()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// identityMiddleware enforces the tenant identity header, normalizes the
// user id, resolves and bootstraps the tenant's library root, and stamps
// the request context before handing off to the tool dispatcher.
func identityMiddleware(cfg *config.Config, log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope.AuthExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(scope.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		if cfg.ServiceToken != "" {
			if r.Header.Get(scope.ServiceTokenHeader) != cfg.ServiceToken {
				writeEnvelope(w, http.StatusUnauthorized, errs.Failure(errs.New("INVALID_SERVICE_TOKEN", "Service token is missing or incorrect.", nil)))
				return
			}
		}

		rawUserID := r.Header.Get(scope.UserIDHeader)
		if rawUserID == "" {
			if cfg.RequireUserHeader {
				writeEnvelope(w, http.StatusBadRequest, errs.Failure(errs.New("MISSING_USER_ID", fmt.Sprintf("%s header is required.", scope.UserIDHeader), nil)))
				return
			}
			rawUserID = "anonymous"
		}
		tenantID, err := scope.NormalizeUserID(rawUserID)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, errs.Failure(errs.AsError(err)))
			return
		}

		libraryRoot := scope.ResolveLibraryRoot(cfg.LibraryPath, tenantID)
		if _, err := schema.EnsureScopedLibraryStructure(libraryRoot, true, time.Now()); err != nil {
			writeEnvelope(w, http.StatusInternalServerError, errs.Failure(errs.AsError(err)))
			return
		}

		ctx := scope.WithRequest(r.Context(), tenantID, libraryRoot, requestID)
		reqLog := logging.WithRequest(log, tenantID, requestID)
		reqLog.Info("request", "path", r.URL.Path, "method", r.Method)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleToolCatalog answers GET /v1/tools with the set of operation names
// this build of the dispatcher recognizes.
func handleToolCatalog(w http.ResponseWriter, r *http.Request) {
	envelope := tooldispatch.Dispatch(tooldispatch.Request{
		Operation:   tooldispatch.OpListOperations,
		LibraryRoot: scope.LibraryRoot(r.Context()),
	})
	writeEnvelope(w, http.StatusOK, envelope)
}

func handleTool(w http.ResponseWriter, r *http.Request) {
	operation := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	if operation == "" {
		writeEnvelope(w, http.StatusNotFound, errs.Failure(errs.New("UNKNOWN_OPERATION", "No operation specified.", nil)))
		return
	}
	var args json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err.Error() != "EOF" {
			writeEnvelope(w, http.StatusBadRequest, errs.Failure(errs.New("INVALID_ARGS", "Request body is not valid JSON.", nil)))
			return
		}
	}

	envelope := tooldispatch.Dispatch(tooldispatch.Request{
		Operation:   operation,
		LibraryRoot: scope.LibraryRoot(r.Context()),
		Args:        args,
	})
	status := http.StatusOK
	if !envelope.OK {
		status = statusForError(envelope.Error)
	}
	writeEnvelope(w, status, envelope)
}

func statusForError(err *errs.Error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	switch err.Code {
	case "UNKNOWN_OPERATION", "FILE_NOT_FOUND", "TASK_NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_ARGS", "INVALID_DATE", "INVALID_PERIOD", "ABSOLUTE_PATH", "PATH_TRAVERSAL", "PATH_SYMLINK", "PATH_EXISTS", "APPROVAL_REQUIRED", "CONFIRM_REQUIRED", "UNKNOWN_TOPIC", "INVALID_USER_ID",
		"MISSING_PATH", "MISSING_CONTENT", "INVALID_NAME", "INVALID_TYPE", "INVALID_PATH", "NOT_MARKDOWN", "DUPLICATE_FILES",
		"MISSING_QUERY", "INVALID_QUERY", "MISSING_OPERATION", "MISSING_CHANGES", "INVALID_ACTION", "RECURSIVE_REQUIRED", "INVALID_CONTENT", "MISSING_FIELDS", "MISSING_ID", "UNKNOWN_FIELD":
		return http.StatusBadRequest
	case "INVALID_SERVICE_TOKEN", "MISSING_USER_ID":
		return http.StatusUnauthorized
	case "LOCK_TIMEOUT":
		return http.StatusConflict
	case "PROJECT_EXISTS", "FILE_EXISTS":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, envelope errs.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
