package response

import (
	"encoding/json"
	"net/http"
)

// Result codes carried in the envelope.
const (
	CodeSuccess         = "SUCCESS"
	CodeFail            = "FAIL"
	CodeValidation      = "VALIDATION_ERROR"
	CodeCodeExpired     = "A001"
	CodeCodeMismatch    = "A002"
	CodeBadCredentials  = "A003"
	CodeEmailExists     = "A004"
	CodeUnauthorized    = "A005"
	CodeEmailSendFailed = "A006"
	CodeInvalidRefresh  = "A007"
	CodeReusedRefresh   = "A008"
	CodeEmailUnverified = "A009"
	CodeTermsNotFound   = "T001"
	CodeMemberNotFound  = "M001"
)

// Envelope is the body of every non-token response.
type Envelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{
		Success: true,
		Code:    CodeSuccess,
		Message: "OK",
		Data:    data,
	})
}

func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Envelope{
		Code:    code,
		Message: message,
	})
}

// Internal hides the cause; callers log it before responding.
func Internal(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, CodeFail, "Internal server error")
}

func Unauthorized(w http.ResponseWriter, code string) {
	Error(w, http.StatusUnauthorized, code, "Unauthorized")
}
