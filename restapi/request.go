/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"code.cloudfoundry.org/bytefmt"
)

// MalformedRequestError is an error that occurs in case of incorrect request.
type MalformedRequestError struct {
	HTTPStatusCode int
	Message        string
}

// Error returns a string representation of MalformedRequestError.
func (e *MalformedRequestError) Error() string {
	return e.Message
}

// NewTooLargeMalformedRequestError creates a new MalformedRequestError for case when request body is too large.
func NewTooLargeMalformedRequestError(maxSizeBytes uint64) *MalformedRequestError {
	return &MalformedRequestError{
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Request body must not be larger than %s.", bytefmt.ByteSize(maxSizeBytes)),
	}
}

// SetRequestMaxBodySize limits the number of bytes that can be read from the request body.
// Decoding a larger body fails with a 413 MalformedRequestError.
func SetRequestMaxBodySize(rw http.ResponseWriter, r *http.Request, maxSizeBytes uint64) {
	r.Body = http.MaxBytesReader(rw, r.Body, int64(maxSizeBytes))
}

// DecodeRequestJSON reads the request body and decodes it as a single JSON object.
func DecodeRequestJSON(r *http.Request, dst interface{}) error {
	return DecodeRequestJSONStrict(r, dst, false)
}

// DecodeRequestJSONStrict is like DecodeRequestJSON but optionally rejects unknown fields.
func DecodeRequestJSONStrict(r *http.Request, dst interface{}, disallowUnknownFields bool) error {
	if reqContentType := r.Header.Get("Content-Type"); reqContentType != "" {
		contentType, _, err := mime.ParseMediaType(reqContentType)
		if err != nil {
			return &MalformedRequestError{
				http.StatusUnsupportedMediaType,
				fmt.Sprintf("failed to parse Content-Type header for request: %s", err),
			}
		}
		if contentType != ContentTypeAppJSON {
			return &MalformedRequestError{
				http.StatusUnsupportedMediaType,
				fmt.Sprintf("Content-Type %q is not supported.", contentType),
			}
		}
	}

	decoder := json.NewDecoder(r.Body)
	if disallowUnknownFields {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		return convertDecodeError(err)
	}
	// Decoder reads streams of JSON values, but a request must carry exactly one.
	if decoder.More() {
		return &MalformedRequestError{http.StatusBadRequest, "Request body must only contain a single JSON object."}
	}
	return nil
}

func convertDecodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var unmarshalTypeErr *json.UnmarshalTypeError
	var tooLargeErr *http.MaxBytesError

	switch {
	case errors.Is(err, io.EOF):
		return &MalformedRequestError{http.StatusBadRequest, "Request body must not be empty."}

	case errors.Is(err, io.ErrUnexpectedEOF):
		return &MalformedRequestError{http.StatusBadRequest, "Request body contains badly-formed JSON."}

	case errors.As(err, &syntaxErr):
		return &MalformedRequestError{
			http.StatusBadRequest,
			fmt.Sprintf("Request body contains badly-formed JSON (at position %d).", syntaxErr.Offset),
		}

	case errors.As(err, &unmarshalTypeErr):
		if unmarshalTypeErr.Field != "" {
			return &MalformedRequestError{
				http.StatusBadRequest,
				fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d).",
					unmarshalTypeErr.Field, unmarshalTypeErr.Offset),
			}
		}
		return &MalformedRequestError{
			http.StatusBadRequest,
			fmt.Sprintf("Request body contains an invalid value of type %q for the field of type %s.",
				unmarshalTypeErr.Value, unmarshalTypeErr.Type.String()),
		}

	case errors.As(err, &tooLargeErr):
		return NewTooLargeMalformedRequestError(uint64(tooLargeErr.Limit))

	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return &MalformedRequestError{http.StatusBadRequest, "Payload does not match the scheme."}
	}
	return err
}
