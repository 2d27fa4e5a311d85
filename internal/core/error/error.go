package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// PostgresErrorMessage describes Postgres related failures.
	PostgresErrorMessage = "postgres operation failed"
	// NotFoundMessage describes a missing record.
	NotFoundMessage = "record not found"
	// GraphConfigMessage describes a bot graph that cannot be compiled.
	GraphConfigMessage = "invalid bot graph configuration"
)

var (
	// ErrConfig marks configuration errors that make a bot graph uncompilable.
	ErrConfig = errors.New("graph configuration error")
	// ErrNotFound marks lookups of records that do not exist.
	ErrNotFound = errors.New("not found")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Config builds a configuration error. The result matches ErrConfig via errors.Is.
func Config(format string, args ...any) *AppError {
	return New(fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...)), http.StatusUnprocessableEntity, GraphConfigMessage)
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity string, id any) *AppError {
	return New(fmt.Errorf("%w: %s %v", ErrNotFound, entity, id), http.StatusNotFound, NotFoundMessage)
}

// WrapRedis maps Redis errors to AppError with appropriate status codes.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// WrapPostgres maps Postgres errors to AppError with appropriate status codes.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return New(fmt.Errorf("%w: %w", ErrNotFound, err), http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusBadGateway, PostgresErrorMessage)
}

// StatusOf returns the HTTP status carried by err, or 500 when err is not an AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
