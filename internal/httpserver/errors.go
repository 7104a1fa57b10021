package httpserver

import (
	"net/http"
)

type ErrorCode string

const (
	ErrCodeValidation                ErrorCode = "VALIDATION_ERROR"
	ErrCodeUsernameExists            ErrorCode = "USERNAME_EXISTS"
	ErrCodeUserNotFound              ErrorCode = "USER_NOT_FOUND"
	ErrCodeInvalidCredentials        ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeTokenInvalid              ErrorCode = "TOKEN_INVALID"
	ErrCodeCannotChatSelf            ErrorCode = "CANNOT_CHAT_SELF"
	ErrCodeNotFriends                ErrorCode = "NOT_FRIENDS"
	ErrCodeFriendRequestNotFound     ErrorCode = "FRIEND_REQUEST_NOT_FOUND"
	ErrCodeFriendRequestAccessDenied ErrorCode = "FRIEND_REQUEST_ACCESS_DENIED"
	ErrCodeFriendRequestInvalidState ErrorCode = "FRIEND_REQUEST_INVALID_STATE"
	ErrCodeFriendRequestExists       ErrorCode = "FRIEND_REQUEST_EXISTS"
	ErrCodeAlreadyFriends            ErrorCode = "ALREADY_FRIENDS"
	ErrCodeInternal                  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllowed          ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound                  ErrorCode = "NOT_FOUND"
)

var errorHTTPStatus = map[ErrorCode]int{
	ErrCodeValidation:                http.StatusBadRequest,
	ErrCodeUsernameExists:            http.StatusConflict,
	ErrCodeUserNotFound:              http.StatusNotFound,
	ErrCodeInvalidCredentials:        http.StatusUnauthorized,
	ErrCodeTokenInvalid:              http.StatusUnauthorized,
	ErrCodeCannotChatSelf:            http.StatusBadRequest,
	ErrCodeNotFriends:                http.StatusForbidden,
	ErrCodeFriendRequestNotFound:     http.StatusNotFound,
	ErrCodeFriendRequestAccessDenied: http.StatusForbidden,
	ErrCodeFriendRequestInvalidState: http.StatusConflict,
	ErrCodeFriendRequestExists:       http.StatusConflict,
	ErrCodeAlreadyFriends:            http.StatusConflict,
	ErrCodeInternal:                  http.StatusInternalServerError,
	ErrCodeMethodNotAllowed:          http.StatusMethodNotAllowed,
	ErrCodeNotFound:                  http.StatusNotFound,
}

func httpStatusForCode(code ErrorCode) int {
	if status, ok := errorHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
