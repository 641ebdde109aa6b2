package service

import (
	"context"
	"errors"
	"strings"

	"metavault/pkg/apperr"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain 是 ErrorInfo.Domain 的取值
const ErrorDomain = "metavault"

// ErrorInfo.Reason 的取值，客户端据此还原错误类别
const (
	ReasonNotFound          = "NOT_FOUND"
	ReasonConflict          = "CONFLICT"
	ReasonConcurrent        = "CONCURRENT_MODIFICATION"
	ReasonStaleMergeRequest = "STALE_MERGE_REQUEST"
	ReasonIncomplete        = "INCOMPLETE_RESOLUTION"
	ReasonProtected         = "PROTECTED_BRANCH"
	ReasonValidation        = "VALIDATION"
	ReasonInternal          = "INTERNAL"
)

// toStatus 把领域错误映射为 gRPC 状态，结构化细节放进 ErrorInfo.Metadata
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code, reason := classify(err)
	md := map[string]string{}

	var stale *apperr.StaleError
	var conflict *apperr.ConflictError
	var incomplete *apperr.IncompleteResolutionError
	switch {
	case errors.As(err, &stale):
		setIf(md, "merge_request_id", stale.MergeRequestID)
		setIf(md, "branch_id", stale.BranchID)
		setIf(md, "expected", stale.Expected)
		setIf(md, "current", stale.Current)
		setIf(md, "current_source", stale.CurrentSource)
		setIf(md, "current_target", stale.CurrentTarget)
	case errors.As(err, &conflict):
		setIf(md, "paths", strings.Join(conflict.Paths, ","))
	case errors.As(err, &incomplete):
		setIf(md, "missing", strings.Join(incomplete.Missing, ","))
	}

	st := status.New(code, err.Error())
	if withInfo, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   ErrorDomain,
		Metadata: md,
	}); derr == nil {
		st = withInfo
	}
	return st.Err()
}

func classify(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return codes.NotFound, ReasonNotFound
	case errors.Is(err, apperr.ErrStaleMergeRequest):
		return codes.Aborted, ReasonStaleMergeRequest
	case errors.Is(err, apperr.ErrConcurrentModification):
		return codes.Aborted, ReasonConcurrent
	case errors.Is(err, apperr.ErrIncompleteResolution):
		return codes.FailedPrecondition, ReasonIncomplete
	case errors.Is(err, apperr.ErrConflict):
		return codes.FailedPrecondition, ReasonConflict
	case errors.Is(err, apperr.ErrProtectedBranch):
		return codes.PermissionDenied, ReasonProtected
	case errors.Is(err, apperr.ErrValidation):
		return codes.InvalidArgument, ReasonValidation
	case errors.Is(err, context.Canceled):
		return codes.Canceled, ReasonInternal
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded, ReasonInternal
	}
	return codes.Internal, ReasonInternal
}

func setIf(md map[string]string, k, v string) {
	if v != "" {
		md[k] = v
	}
}

// ErrorInfo 从 gRPC 错误里取出 ErrorInfo，没有时返回 nil
func ErrorInfo(err error) *errdetails.ErrorInfo {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}
