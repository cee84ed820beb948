package model

// ErrorKind is the failure taxonomy recorded on scan logs and responses.
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorParseFailure      ErrorKind = "parse_failure"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorProviderExhausted ErrorKind = "provider_exhausted"
	ErrorTimeout           ErrorKind = "timeout"
	ErrorNetwork           ErrorKind = "network_error"
	ErrorStorageWrite      ErrorKind = "storage_write_failure"
	ErrorProvider          ErrorKind = "provider_error"
	ErrorInvalidRequest    ErrorKind = "invalid_request"
)

// UserMessage returns the message shown to the caller for a failure kind.
func (k ErrorKind) UserMessage() string {
	switch k {
	case ErrorParseFailure:
		return "We could not read the analysis for this photo. Try another angle or better lighting."
	case ErrorRateLimited:
		return "Too many identifications right now. Please wait a moment and try again."
	case ErrorProviderExhausted:
		return "Identification is temporarily unavailable. Please try again later."
	case ErrorTimeout:
		return "Identification took too long. Please try again."
	case ErrorNetwork:
		return "Could not reach the identification service. Check your connection and try again."
	case ErrorInvalidRequest:
		return "The photo could not be processed. Make sure it is a JPEG, PNG or WebP image."
	case ErrorNone:
		return ""
	default:
		return "Identification failed. Please try again."
	}
}
