package rest

import (
	_ "embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/hashicorp/go-hclog"
)

//go:embed openapi.yaml
var openapiDoc []byte

// newValidationMiddleware loads the embedded OpenAPI document once and
// returns chi middleware that rejects any request not matching its shape
// before a handler runs.
func newValidationMiddleware(logger hclog.Logger) (func(http.Handler) http.Handler, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDoc)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, err
	}
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				// Unmatched route: let chi's own 404 handling take over
				// rather than failing the request here.
				next.ServeHTTP(w, r)
				return
			}
			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				logger.Debug("request failed openapi validation", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusBadRequest, "BPMNExecutionError", err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
