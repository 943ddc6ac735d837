/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/restapi"
	"github.com/acronis/watchtower/testutil"
)

func TestRequestBodyLimitHandler_ServeHTTP(t *testing.T) {
	const maxSize = 10

	var readErr error
	var served int
	next := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		served++
		_, readErr = io.ReadAll(r.Body)
	})
	handler := RequestBodyLimit(maxSize)(next)

	t.Run("body fits", func(t *testing.T) {
		served = 0
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
		require.Equal(t, 1, served)
		require.NoError(t, readErr)
		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("content length exceeds the limit", func(t *testing.T) {
		served = 0
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789A")))
		require.Equal(t, 0, served)
		testutil.RequireErrorInRecorder(t, resp, http.StatusRequestEntityTooLarge,
			restapi.NewTooLargeMalformedRequestError(maxSize).Message)
	})

	t.Run("body without content length exceeds the limit", func(t *testing.T) {
		served = 0
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789A"))
		req.ContentLength = -1
		handler.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, 1, served)
		var maxBytesErr *http.MaxBytesError
		require.ErrorAs(t, readErr, &maxBytesErr)
	})
}
