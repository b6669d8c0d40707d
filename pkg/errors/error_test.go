package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "weldon/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{TokenInvalid, "Given token is not allowed to do anything."},
		{InvalidParams, "Invalid parameters"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_Kind(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Kind
	}{
		{InvalidCredentials, KindAuth},
		{TokenInvalid, KindAuth},
		{RooterOnly, KindPermission},
		{ProblemSessionClosed, KindPermission},
		{NotYetSucceeded, KindPermission},
		{ProblemNotFound, KindNotFound},
		{ProblemTitleTaken, KindConflict},
		{TestNameTaken, KindConflict},
		{TestShapeInvalid, KindTestValidation},
		{CandidateTestFailing, KindValidation},
		{InvalidUsername, KindValidation},
		{DecryptionFailed, KindProtocol},
		{UnknownCommand, KindProtocol},
		{JudgeTimeout, KindJudgeTimeout},
		{TooManyRequests, KindRateLimited},
		{JudgeSystemError, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ProtocolViolation, 400},
		{TokenInvalid, 401},
		{RooterOnly, 403},
		{ProblemNotFound, 404},
		{TestNameTaken, 409},
		{TooManyRequests, 429},
		{InternalServerError, 500},
		{ServiceUnavailable, 503},
		{JudgeTimeout, 504},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ProblemNotFound, "Problem %s does not exist", "revcomp")

	want := "Problem revcomp does not exist"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if err.Code != ProblemNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ProblemNotFound)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, CacheError)

	if wrappedErr.Code != CacheError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, CacheError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, CacheError) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrapKeepsExistingError(t *testing.T) {
	inner := Newf(TestNameTaken, "Test test_a already exists")
	outer := Wrap(fmt.Errorf("admit: %w", inner), TestNameTaken)

	if outer != inner {
		t.Error("Wrap should reuse the wrapped *Error")
	}
	if outer.Error() != "Test test_a already exists" {
		t.Errorf("message changed: %v", outer.Error())
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "title").
		WithDetail("reason", "must not be empty")

	if err.Details["field"] != "title" {
		t.Error("Field detail not set correctly")
	}
	if err.Details["reason"] != "must not be empty" {
		t.Error("Reason detail not set correctly")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(ProblemNotFound), want: ProblemNotFound},
		{name: "wrapped custom error", err: fmt.Errorf("lookup: %w", New(TokenInvalid)), want: TokenInvalid},
		{name: "deadline", err: fmt.Errorf("run: %w", context.DeadlineExceeded), want: Timeout},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(ProblemNotFound)

	if !Is(err, ProblemNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CacheError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, ProblemNotFound) {
		t.Error("Is() should return false for nil error")
	}
}

func TestFamilyConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
		msg  string
	}{
		{name: "auth", err: AuthError("Wrong password for player registration"), kind: KindAuth, msg: "Wrong password for player registration"},
		{name: "token", err: TokenError(), kind: KindAuth, msg: "Given token is not allowed to do anything."},
		{name: "permission default", err: PermissionError(""), kind: KindPermission, msg: "Permission denied"},
		{name: "conflict", err: ConflictError(ProblemTitleTaken, "You already submitted a problem titled x"), kind: KindConflict, msg: "You already submitted a problem titled x"},
		{name: "test validation", err: TestValidationError("No callable found in given source code."), kind: KindTestValidation, msg: "No callable found in given source code."},
		{name: "protocol", err: ProtocolError(nil, "decode envelope"), kind: KindProtocol, msg: "decode envelope"},
		{name: "validation", err: ValidationError("title", "must not be empty"), kind: KindValidation, msg: "title: must not be empty"},
		{name: "internal", err: InternalError(errors.New("boom")), kind: KindInternal, msg: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if tt.err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestProtocolErrorWrapsCause(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := ProtocolError(cause, "decode envelope")
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if err.Error() != "decode envelope: unexpected end of JSON input" {
		t.Errorf("Error() = %q", err.Error())
	}
}
