package errinfo

import (
	"context"
	"errors"
	"net"

	"glossa/internal/chunkcache"
	"glossa/internal/llm"
	"glossa/internal/retry"
	"glossa/internal/validate"
)

// chunkScoped is implemented by errors that belong to one chunk.
type chunkScoped interface {
	ChunkIndex() int
}

// dumpReferrer is implemented by errors that archived a failed candidate.
type dumpReferrer interface {
	DumpPath() string
}

// FromError classifies err into an ErrorInfo. An existing *ErrorInfo is
// returned unchanged.
func FromError(phase string, err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var existing *ErrorInfo
	if errors.As(err, &existing) {
		return existing
	}
	info := classify(phase, err)
	var scoped chunkScoped
	if errors.As(err, &scoped) {
		info.Chunk = scoped.ChunkIndex()
	}
	var dump dumpReferrer
	if errors.As(err, &dump) && dump.DumpPath() != "" {
		info.DetailRef = dump.DumpPath()
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && info.ErrorCode != CodeProviderAuthFailed {
		info.Retryable = true
	}
	return info
}

func classify(phase string, err error) *ErrorInfo {
	detail := err.Error()
	if errors.Is(err, context.Canceled) {
		return UserCanceled(phase, detail)
	}
	if errors.Is(err, llm.ErrUnauthorized) {
		return ProviderAuthFailed(phase, detail)
	}
	if errors.Is(err, llm.ErrEgressBlocked) {
		return EgressBlocked(phase, "model endpoint not allowed: "+detail)
	}
	var pathErr *chunkcache.PathError
	if errors.As(err, &pathErr) {
		var info *ErrorInfo
		if pathErr.Op == "read" || pathErr.Op == "list" {
			info = FileReadFailed(phase, detail)
		} else {
			info = FileWriteFailed(phase, detail)
		}
		info.DetailRef = pathErr.Path
		return info
	}
	var failure *validate.Failure
	if errors.As(err, &failure) {
		return ValidationFailed(phase, detail)
	}
	if errors.Is(err, llm.ErrUnavailable) || errors.Is(err, llm.ErrRateLimited) {
		return ProviderUnavailable(phase, detail)
	}
	if status := llm.StatusOf(err); status != 0 {
		if llm.IsTransientStatus(status) {
			return ProviderUnavailable(phase, detail)
		}
		return ProviderRejected(phase, detail)
	}
	if llm.IsTimeout(err) || errors.Is(err, llm.ErrEmptyResponse) {
		return NetworkUnavailable(phase, detail)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkUnavailable(phase, detail)
	}
	var scoped chunkScoped
	if errors.As(err, &scoped) {
		return ChunkFailed(phase, detail)
	}
	return Internal(phase, detail)
}
