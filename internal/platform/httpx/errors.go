package httpx

import (
	"net/http"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// RespondError maps the shared error taxonomy to HTTP responses. The detail
// carries the bilingual user message in the caller's language; dependency
// failures send a generic message only.
func RespondError(w http.ResponseWriter, err error, lang shared.Lang) {
	detail := shared.UserMessage(err, lang)
	switch shared.KindOf(err) {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", detail)
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", detail)
	case shared.KindAuthorization:
		Problem(w, http.StatusForbidden, "Forbidden", detail)
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", detail)
	default:
		Problem(w, http.StatusBadGateway, "Dependency Failure", detail)
	}
}
