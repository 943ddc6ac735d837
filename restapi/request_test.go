/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRequestJSON(t *testing.T) {
	type credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	tests := []struct {
		name                  string
		contentType           string
		body                  string
		maxBodySize           uint64
		disallowUnknownFields bool
		wantErr               error
	}{
		{
			name:    "not a json",
			body:    "text",
			wantErr: &MalformedRequestError{http.StatusBadRequest, "Request body contains badly-formed JSON (at position 2)."},
		},
		{
			name:        "unsupported content type",
			contentType: "text/html",
			body:        "text",
			wantErr:     &MalformedRequestError{http.StatusUnsupportedMediaType, `Content-Type "text/html" is not supported.`},
		},
		{
			name:        "invalid content type",
			contentType: "invalid content type",
			body:        `{}`,
			wantErr: &MalformedRequestError{
				http.StatusUnsupportedMediaType,
				"failed to parse Content-Type header for request: mime: expected slash after first token",
			},
		},
		{
			name:        "empty body",
			contentType: ContentTypeAppJSON,
			wantErr:     &MalformedRequestError{http.StatusBadRequest, "Request body must not be empty."},
		},
		{
			name:        "truncated json",
			contentType: ContentTypeAppJSON,
			body:        `{"email":"a@example.com"`,
			wantErr:     &MalformedRequestError{http.StatusBadRequest, "Request body contains badly-formed JSON."},
		},
		{
			name:        "invalid field type",
			contentType: ContentTypeAppJSON,
			body:        `{"email":[]}`,
			wantErr: &MalformedRequestError{
				http.StatusBadRequest,
				`Request body contains an invalid value for the "email" field (at position 10).`,
			},
		},
		{
			name:        "too large",
			contentType: ContentTypeAppJSON,
			body:        `{"email":"a-very-long-address@example.com","password":"secret"}`,
			maxBodySize: 20,
			wantErr:     &MalformedRequestError{http.StatusRequestEntityTooLarge, "Request body must not be larger than 20B."},
		},
		{
			name:        "several objects",
			contentType: ContentTypeAppJSON,
			body:        `{"email":"a@example.com"}{"email":"b@example.com"}`,
			wantErr:     &MalformedRequestError{http.StatusBadRequest, "Request body must only contain a single JSON object."},
		},
		{
			name:                  "unknown field",
			contentType:           ContentTypeAppJSON,
			body:                  `{"login":"john"}`,
			disallowUnknownFields: true,
			wantErr:               &MalformedRequestError{http.StatusBadRequest, "Payload does not match the scheme."},
		},
		{
			name:        "ok",
			contentType: ContentTypeAppJSON + "; charset=utf-8",
			body:        `{"email":"a@example.com","password":"secret"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			if tt.maxBodySize != 0 {
				SetRequestMaxBodySize(httptest.NewRecorder(), req, tt.maxBodySize)
			}
			var creds credentials
			err := DecodeRequestJSONStrict(req, &creds, tt.disallowUnknownFields)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}
