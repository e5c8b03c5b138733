package errinfo

import "fmt"

// ErrorInfo is the structured error the CLI prints for a failed command.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	ModelID   string   `json:"model_id,omitempty"`
	Chunk     int      `json:"chunk,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	// DetailRef points at a file with more context, such as a failed dump.
	DetailRef string `json:"detail_ref,omitempty"`
}

const (
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeProviderAuthFailed    = "PROVIDER_AUTH_FAILED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeProviderRejected      = "PROVIDER_REQUEST_REJECTED"
	CodeNetworkUnavailable    = "NETWORK_UNAVAILABLE"
	CodeEgressBlocked         = "EGRESS_BLOCKED_BY_POLICY"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeChunkFailed           = "CHUNK_FAILED"
	CodeFileReadFailed        = "FILE_READ_FAILED"
	CodeFileWriteFailed       = "FILE_WRITE_FAILED"
	CodeUserCanceled          = "USER_CANCELED"
	CodeInvalidParams         = "INVALID_PARAMS"
	CodeInternal              = "INTERNAL"
)

const (
	ActionRetry        = "retry"
	ActionResume       = "resume"
	ActionCheckConfig  = "check_config"
	ActionInspectDumps = "inspect_failed_dumps"
)

const (
	PhaseConfig   = "config"
	PhaseLoad     = "load"
	PhaseAnnotate = "annotate"
	PhaseCombine  = "combine"
	PhasePublish  = "publish"
	PhaseRPC      = "rpc"
)

// Exit codes used by the CLI.
const (
	ExitFailure = 1
	ExitUsage   = 2
)

func (e *ErrorInfo) Error() string {
	msg := e.ErrorCode
	if e.Chunk > 0 {
		msg = fmt.Sprintf("%s chunk=%d", msg, e.Chunk)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ExitCode is ExitUsage for configuration problems and ExitFailure otherwise.
func (e *ErrorInfo) ExitCode() int {
	switch e.ErrorCode {
	case CodeConfigInvalid, CodeProviderNotConfigured, CodeInvalidParams:
		return ExitUsage
	}
	return ExitFailure
}

func ConfigInvalid(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeConfigInvalid,
		Phase:     PhaseConfig,
		Retryable: false,
		Actions:   []string{ActionCheckConfig},
		Detail:    detail,
	}
}

func ProviderNotConfigured(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderNotConfigured,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionCheckConfig},
		Detail:    "GLOSSA_API_KEY is not set",
	}
}

func ProviderAuthFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderAuthFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionCheckConfig},
		Detail:    detail,
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionResume},
		Detail:    detail,
	}
}

func ProviderRejected(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderRejected,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func NetworkUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNetworkUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionResume},
		Detail:    detail,
	}
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionCheckConfig},
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionResume, ActionInspectDumps},
		Detail:    detail,
	}
}

func ChunkFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeChunkFailed,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionInspectDumps},
		Detail:    detail,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUserCanceled,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

// InvalidParams reports a malformed RPC request body.
func InvalidParams(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeInvalidParams,
		Phase:     PhaseRPC,
		Retryable: false,
		Detail:    detail,
	}
}

func Internal(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeInternal,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}
