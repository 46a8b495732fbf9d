package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ankisyncd/ankisyncd-go/internal/apierr"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", slog.String("err", err.Error()))
	}
}

func writeNull(w http.ResponseWriter) {
	writeJSON(w, nil)
}

func writeRaw(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Write(data) //nolint:errcheck // best-effort; client disconnects are not actionable here
}

// writeAPIError maps err to an HTTP status via the apierr taxonomy.
// AuthFailure gets an empty body (protocol convention); every other status
// gets a small JSON envelope with a message safe to show a client — never
// the raw wrapped error, which may carry filesystem paths.
func writeAPIError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apierr.StatusOf(err)

	if status == http.StatusNonAuthoritativeInfo {
		w.WriteHeader(status)
		return
	}

	var se *apierr.StatusError

	message := "internal error"

	if errors.As(err, &se) && se.Message != "" {
		message = se.Message
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("err", err.Error()))
	}

	w.WriteHeader(status)
	writeJSON(w, map[string]string{"err": message})
}
