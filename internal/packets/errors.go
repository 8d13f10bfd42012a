package packets

// ErrorCode is the numeric code carried by an Error packet.
type ErrorCode uint16

const (
	ErrNotDefined ErrorCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalOperation
	ErrFileExists
	ErrNotLoggedIn
	ErrAlreadyLoggedIn
)

var errorMessages = [...]string{
	ErrNotDefined:       "Not defined, see error message (if any).",
	ErrFileNotFound:     "File not found - RRQ DELRQ of non-existing file.",
	ErrAccessViolation:  "Access violation - File cannot be written, read, or deleted.",
	ErrDiskFull:         "Disk full or allocation exceeded - No room in disk.",
	ErrIllegalOperation: "Illegal TFTP operation - Unknown Opcode.",
	ErrFileExists:       "File already exists - File name exists on WRQ.",
	ErrNotLoggedIn:      "User not logged in - Any opcode received before Login completes.",
	ErrAlreadyLoggedIn:  "User already logged in - Login username already connected.",
}

// Message returns the canonical description of the error code.
func (c ErrorCode) Message() string {
	if int(c) < len(errorMessages) {
		return errorMessages[c]
	}
	return "Unknown error."
}

// NewError returns an Error packet with the canonical message for code.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message()}
}

// NewErrorDetail returns an Error packet whose message is detail rather than
// the canonical text. Used with ErrNotDefined to explain what went wrong.
func NewErrorDetail(code ErrorCode, detail string) *Error {
	return &Error{Code: code, Message: detail}
}
