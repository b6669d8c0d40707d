package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity & session errors
// 12000-12999: Problem registry errors
// 13000-13999: Submission, judge & admission errors
// 14000-14999: Transport & protocol errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	InvalidValue     ErrorCode = 10302

	// ========== Identity Errors (11000-11999) ==========

	InvalidCredentials    ErrorCode = 11000
	TokenInvalid          ErrorCode = 11001
	TokenGenerationFailed ErrorCode = 11002
	InvalidUsername       ErrorCode = 11100
	PermissionDenied      ErrorCode = 11200
	RooterOnly            ErrorCode = 11201

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound      ErrorCode = 12000
	ProblemTitleTaken    ErrorCode = 12001
	ProblemSessionClosed ErrorCode = 12002
	ProblemStateConflict ErrorCode = 12003
	TestNameTaken        ErrorCode = 12100
	TestShapeInvalid     ErrorCode = 12101

	// ========== Submission & Judge Errors (13000-13999) ==========

	SubmissionNotFound   ErrorCode = 13000
	NotYetSucceeded      ErrorCode = 13001
	CandidateTestFailing ErrorCode = 13002
	JudgeSystemError     ErrorCode = 13100
	JudgeTimeout         ErrorCode = 13101
	StyleScorerError     ErrorCode = 13200

	// ========== Transport Errors (14000-14999) ==========

	ProtocolViolation ErrorCode = 14000
	DecryptionFailed  ErrorCode = 14001
	EncryptionFailed  ErrorCode = 14002
	UnknownCommand    ErrorCode = 14003
)

// Kind is the client-facing error family of a code.
type Kind string

const (
	KindAuth           Kind = "AuthError"
	KindPermission     Kind = "PermissionError"
	KindNotFound       Kind = "NotFoundError"
	KindConflict       Kind = "ConflictError"
	KindTestValidation Kind = "TestValidationError"
	KindValidation     Kind = "ValidationError"
	KindProtocol       Kind = "ProtocolError"
	KindJudgeTimeout   Kind = "JudgeTimeoutError"
	KindRateLimited    Kind = "RateLimited"
	KindInternal       Kind = "InternalError"
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	InvalidValue:     "Invalid value",

	InvalidCredentials:    "Invalid password",
	TokenInvalid:          "Given token is not allowed to do anything.",
	TokenGenerationFailed: "Failed to generate token",
	InvalidUsername:       "Invalid display name",
	PermissionDenied:      "Permission denied",
	RooterOnly:            "Operation is restricted to rooters",

	ProblemNotFound:      "Problem does not exist",
	ProblemTitleTaken:    "Problem title already registered",
	ProblemSessionClosed: "Problem session is closed",
	ProblemStateConflict: "Problem session is already in the requested state",
	TestNameTaken:        "A test with this name already exists",
	TestShapeInvalid:     "Invalid test source",

	SubmissionNotFound:   "No submission found",
	NotYetSucceeded:      "Last submission did not succeed all tests",
	CandidateTestFailing: "Candidate test fails on last submission",
	JudgeSystemError:     "Judge system error",
	JudgeTimeout:         "Judge did not answer in time",
	StyleScorerError:     "Style scorer error",

	ProtocolViolation: "Malformed request",
	DecryptionFailed:  "Unable to decrypt message",
	EncryptionFailed:  "Unable to encrypt message",
	UnknownCommand:    "Unknown command",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Kind maps the code onto the client-facing error family.
func (c ErrorCode) Kind() Kind {
	switch c {
	case InvalidCredentials, TokenInvalid, Unauthorized:
		return KindAuth
	case PermissionDenied, RooterOnly, Forbidden, ProblemSessionClosed, NotYetSucceeded:
		return KindPermission
	case NotFound, ProblemNotFound, SubmissionNotFound:
		return KindNotFound
	case ProblemTitleTaken, ProblemStateConflict, TestNameTaken:
		return KindConflict
	case TestShapeInvalid:
		return KindTestValidation
	case ValidationFailed, InvalidFormat, InvalidValue, InvalidParams, InvalidUsername, CandidateTestFailing:
		return KindValidation
	case ProtocolViolation, DecryptionFailed, EncryptionFailed, UnknownCommand:
		return KindProtocol
	case JudgeTimeout, Timeout:
		return KindJudgeTimeout
	case TooManyRequests:
		return KindRateLimited
	default:
		return KindInternal
	}
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	if c == Success {
		return 200
	}
	switch c.Kind() {
	case KindAuth:
		return 401
	case KindPermission:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindValidation, KindTestValidation, KindProtocol:
		return 400
	case KindRateLimited:
		return 429
	case KindJudgeTimeout:
		return 504
	default:
		if c == ServiceUnavailable {
			return 503
		}
		return 500
	}
}
