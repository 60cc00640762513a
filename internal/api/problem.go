package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/distill/internal/embedding"
	"github.com/hyperengineering/distill/internal/pipeline"
	"github.com/hyperengineering/distill/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response. Error repeats
// Detail for clients that only read an error field.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Error    string `json:"error"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest: {
		typeURI: "https://distill.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusUnauthorized: {
		typeURI: "https://distill.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusForbidden: {
		typeURI: "https://distill.dev/errors/forbidden",
		title:   "Forbidden",
	},
	http.StatusRequestEntityTooLarge: {
		typeURI: "https://distill.dev/errors/too-large",
		title:   "Request Entity Too Large",
	},
	http.StatusUnsupportedMediaType: {
		typeURI: "https://distill.dev/errors/unsupported-media-type",
		title:   "Unsupported Media Type",
	},
	http.StatusInternalServerError: {
		typeURI: "https://distill.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{
		typeURI: "https://distill.dev/errors/unknown",
		title:   http.StatusText(status),
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	writeProblem(w, status, Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Error:    detail,
	})
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 400 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := lookupProblemType(http.StatusBadRequest)
	writeProblem(w, http.StatusBadRequest, ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusBadRequest,
			Detail:   detail,
			Instance: r.URL.Path,
			Error:    detail,
		},
		Errors: errs,
	})
}

func writeProblem(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapPipelineError converts ingestion errors to Problem Details responses.
// Business errors are 400. Extraction and unexpected failures are 500 and
// carry the underlying message.
func MapPipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoContent),
		errors.Is(err, pipeline.ErrNoFacts),
		errors.Is(err, embedding.ErrProviderUnavailable):
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
	default:
		WriteProblem(w, r, http.StatusInternalServerError, err.Error())
	}
}
