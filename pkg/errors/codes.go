package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Short aliases used at call sites.
const (
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeUnauthorized   = ErrCodeUnauthorized
	CodeForbidden      = ErrCodeForbidden
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeRateLimit      = ErrCodeTooManyRequests
	CodeNotImplemented = ErrCodeNotImplemented
	CodeCacheError     = ErrCodeCacheError
	CodeStorageError   = ErrCodeExternalService
	CodeOK             = ErrorCode("OK")
	CodeUnknown        = ErrorCode("UNKNOWN")

	CodeReferenceNotFound = ErrCodeReferenceNotFound
	CodeModelConfig       = ErrCodeModelConfigInvalid
)

// Reference Data Module Error Codes
const (
	ErrCodeReferenceNotFound    ErrorCode = "REF_001"
	ErrCodeReferenceLoadFailed  ErrorCode = "REF_002"
	ErrCodeReferenceParseFailed ErrorCode = "REF_003"
	ErrCodeReferenceEmpty       ErrorCode = "REF_004"
	ErrCodeRegionUnknown        ErrorCode = "REF_005"
)

// Model Registry Error Codes
const (
	ErrCodeModelNotFound          ErrorCode = "MDL_001"
	ErrCodeModelSourceFailed      ErrorCode = "MDL_002"
	ErrCodeModelConfigInvalid     ErrorCode = "MDL_003"
	ErrCodeRegionAmbiguous        ErrorCode = "MDL_004"
	ErrCodeBaselineMissing        ErrorCode = "MDL_005"
	ErrCodeModelAlreadyRegistered ErrorCode = "MDL_006"
)

// Scoring Module Error Codes
const (
	ErrCodeScorerBatchFailed   ErrorCode = "SCR_001"
	ErrCodeScorerMalformed     ErrorCode = "SCR_002"
	ErrCodeScorerUnavailable   ErrorCode = "SCR_003"
	ErrCodeNothingSucceeded    ErrorCode = "SCR_004"
	ErrCodeScoringInputInvalid ErrorCode = "SCR_005"
)

// Similarity Module Error Codes
const (
	ErrCodeSimilarityInputInvalid ErrorCode = "SIM_001"
	ErrCodeCandidateNotFound      ErrorCode = "SIM_002"
)

// Embedding Module Error Codes
const (
	ErrCodeEmbeddingFailed       ErrorCode = "EMB_001"
	ErrCodeEmbeddingInsufficient ErrorCode = "EMB_002"
	ErrCodeEmbedderUnavailable   ErrorCode = "EMB_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeReferenceNotFound:    http.StatusNotFound,
	ErrCodeReferenceLoadFailed:  http.StatusBadGateway,
	ErrCodeReferenceParseFailed: http.StatusBadGateway,
	ErrCodeReferenceEmpty:       http.StatusBadGateway,
	ErrCodeRegionUnknown:        http.StatusBadRequest,

	ErrCodeModelNotFound:          http.StatusNotFound,
	ErrCodeModelSourceFailed:      http.StatusServiceUnavailable,
	ErrCodeModelConfigInvalid:     http.StatusInternalServerError,
	ErrCodeRegionAmbiguous:        http.StatusInternalServerError,
	ErrCodeBaselineMissing:        http.StatusInternalServerError,
	ErrCodeModelAlreadyRegistered: http.StatusConflict,

	ErrCodeScorerBatchFailed:   http.StatusBadGateway,
	ErrCodeScorerMalformed:     http.StatusBadGateway,
	ErrCodeScorerUnavailable:   http.StatusServiceUnavailable,
	ErrCodeNothingSucceeded:    http.StatusBadGateway,
	ErrCodeScoringInputInvalid: http.StatusBadRequest,

	ErrCodeSimilarityInputInvalid: http.StatusBadRequest,
	ErrCodeCandidateNotFound:      http.StatusNotFound,

	ErrCodeEmbeddingFailed:       http.StatusInternalServerError,
	ErrCodeEmbeddingInsufficient: http.StatusUnprocessableEntity,
	ErrCodeEmbedderUnavailable:   http.StatusServiceUnavailable,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeReferenceNotFound:    "reference data not found",
	ErrCodeReferenceLoadFailed:  "failed to load reference data",
	ErrCodeReferenceParseFailed: "failed to parse reference data",
	ErrCodeReferenceEmpty:       "reference population is empty",
	ErrCodeRegionUnknown:        "unknown region",

	ErrCodeModelNotFound:          "model not found",
	ErrCodeModelSourceFailed:      "failed to load model descriptors",
	ErrCodeModelConfigInvalid:     "invalid model configuration",
	ErrCodeRegionAmbiguous:        "model region is ambiguous",
	ErrCodeBaselineMissing:        "facility model has no baseline for its region",
	ErrCodeModelAlreadyRegistered: "model already registered",

	ErrCodeScorerBatchFailed:   "scorer batch failed",
	ErrCodeScorerMalformed:     "malformed scorer response",
	ErrCodeScorerUnavailable:   "scorer unavailable",
	ErrCodeNothingSucceeded:    "no model produced a prediction",
	ErrCodeScoringInputInvalid: "invalid scoring input",

	ErrCodeSimilarityInputInvalid: "invalid similarity input",
	ErrCodeCandidateNotFound:      "candidate record not found",

	ErrCodeEmbeddingFailed:       "embedding failed",
	ErrCodeEmbeddingInsufficient: "not enough points to embed",
	ErrCodeEmbedderUnavailable:   "embedder unavailable",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
