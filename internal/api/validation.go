package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/djlord-it/asyncq/internal/domain"
)

const (
	maxRequestIDLength = 255
	maxPrincipalLength = 255
)

// validateSubmitQuery checks req and fills in defaults.
func validateSubmitQuery(req *SubmitQueryRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query is required")
	}

	if req.QueryType == "" {
		req.QueryType = string(domain.QueryTypeSQL)
	}
	if !domain.QueryType(req.QueryType).Valid() {
		return fmt.Errorf("invalid query_type: %q", req.QueryType)
	}

	if len(req.RequestID) > maxRequestIDLength {
		return fmt.Errorf("request_id exceeds %d characters", maxRequestIDLength)
	}

	return nil
}

func principalFrom(r *http.Request) (string, error) {
	p := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	if p == "" {
		return DefaultPrincipal, nil
	}
	if len(p) > maxPrincipalLength {
		return "", fmt.Errorf("%s exceeds %d characters", PrincipalHeader, maxPrincipalLength)
	}
	return p, nil
}
