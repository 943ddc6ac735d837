/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/log"
	"github.com/acronis/watchtower/log/logtest"
	"github.com/acronis/watchtower/testutil"
)

type responseRecorderReturnedErrorOnWrite struct {
	*httptest.ResponseRecorder
}

func (rw *responseRecorderReturnedErrorOnWrite) Write(_ []byte) (int, error) {
	return 0, fmt.Errorf("error on write")
}

func TestRespondJSON(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		type activity struct {
			Busy     bool `json:"busy"`
			InFlight int  `json:"inFlight"`
		}
		resp := httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondJSON(resp, &activity{true, 2}, logger)
		testutil.RequireJSONInRecorder(t, resp, &activity{true, 2}, &activity{})
		require.Empty(t, logger.Entries())
	})

	t.Run("marshaling error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondJSON(resp, make(chan bool), nil)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		testutil.RequireEmptyBodyInRecorder(t, resp)

		resp = httptest.NewRecorder()
		logger := logtest.NewRecorder()
		RespondJSON(resp, make(chan bool), logger)
		require.Equal(t, http.StatusInternalServerError, resp.Code)
		require.Empty(t, resp.Header().Get("Content-Type"))
		require.Len(t, logger.Entries(), 1)
		require.Equal(t, log.LevelError, logger.Entries()[0].Level)
	})

	t.Run("writing error", func(t *testing.T) {
		resp := &responseRecorderReturnedErrorOnWrite{httptest.NewRecorder()}
		logger := logtest.NewRecorder()
		RespondJSON(resp, "foo", logger)
		require.Len(t, logger.Entries(), 1)
		require.Equal(t, log.LevelError, logger.Entries()[0].Level)
	})

	t.Run("keep Content-Type", func(t *testing.T) {
		resp := httptest.NewRecorder()
		resp.Header().Set("Content-Type", "application/problem+json")
		RespondJSON(resp, "nothing", nil)
		require.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
	})

	t.Run("nil data", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondCodeAndJSON(resp, http.StatusNoContent, nil, nil)
		require.Equal(t, http.StatusNoContent, resp.Code)
		require.Empty(t, resp.Header().Get("Content-Type"))
		require.Empty(t, resp.Body.String())
	})
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name           string
		httpStatusCode int
		apiErr         *Error
		wantLevel      log.Level
	}{
		{
			name:           "server error",
			httpStatusCode: http.StatusInternalServerError,
			apiErr:         NewInternalError(),
			wantLevel:      log.LevelError,
		},
		{
			name:           "too many requests",
			httpStatusCode: http.StatusTooManyRequests,
			apiErr:         NewErrorForStatus(http.StatusTooManyRequests, "Too many requests from this IP, please try again later."),
			wantLevel:      log.LevelWarn,
		},
		{
			name:           "upstream failure with context",
			httpStatusCode: http.StatusBadGateway,
			apiErr:         NewError(ErrCodeBadGateway, ErrMessageBadGateway).AddContext("upstream", "data"),
			wantLevel:      log.LevelError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			MustInitAndRegisterMetrics("")
			defer UnregisterMetrics()

			logger := logtest.NewRecorder()
			resp := httptest.NewRecorder()
			RespondError(resp, tt.httpStatusCode, tt.apiErr, logger)

			testutil.RequireErrorInRecorder(t, resp, tt.httpStatusCode, tt.apiErr.Message)

			require.Len(t, logger.Entries(), 1)
			logEntry := logger.Entries()[0]
			require.Equal(t, tt.wantLevel, logEntry.Level)
			errCode, found := logEntry.StringField("error_code")
			require.True(t, found)
			require.Equal(t, tt.apiErr.Code, errCode)
			for k := range tt.apiErr.Context {
				_, found = logEntry.FindField("error_context_" + k)
				require.True(t, found)
			}

			labels := prometheus.Labels{
				metricsLabelResponseErrorStatus: fmt.Sprint(tt.httpStatusCode),
				metricsLabelResponseErrorCode:   tt.apiErr.Code,
			}
			require.Equal(t, 1.0, promtestutil.ToFloat64(metricsResponseErrors.With(labels)))
		})
	}
}

func TestRespondMalformedRequestOrInternalError(t *testing.T) {
	t.Run("internal error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		RespondMalformedRequestOrInternalError(resp, errors.New("unexpected error"), nil)
		testutil.RequireErrorInRecorder(t, resp, http.StatusInternalServerError, ErrMessageInternal)
	})

	t.Run("malformed error", func(t *testing.T) {
		resp := httptest.NewRecorder()
		err := fmt.Errorf("decode credentials: %w", NewTooLargeMalformedRequestError(1024*1024))
		RespondMalformedRequestOrInternalError(resp, err, nil)
		testutil.RequireErrorInRecorder(t, resp, http.StatusRequestEntityTooLarge, "Request body must not be larger than 1M.")
	})
}
