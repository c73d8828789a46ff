package validation

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "go-repub/internal/errors"
)

// URLValidator checks page source URLs before anything is fetched.
//
// Allowed hosts are matched case-insensitively against the host name without
// its port. An entry of the form "*.example.org" admits every subdomain of
// example.org but not example.org itself.
type URLValidator struct {
	schemes  map[string]bool
	hosts    []string
	maxPages int
}

// NewURLValidator creates a validator that accepts http(s) URLs on any host
func NewURLValidator() *URLValidator {
	return NewURLValidatorWithOptions([]string{"http", "https"}, nil)
}

// NewURLValidatorWithOptions creates a validator for the given schemes and
// hosts. No hosts means every host is allowed.
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	v := &URLValidator{schemes: make(map[string]bool, len(schemes))}
	for _, s := range schemes {
		v.schemes[strings.ToLower(s)] = true
	}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			v.hosts = append(v.hosts, h)
		}
	}
	return v
}

// WithMaxPages limits the number of URLs one job may reference. Zero means no limit.
func (v *URLValidator) WithMaxPages(n int) *URLValidator {
	v.maxPages = n
	return v
}

// ValidatePageURL validates the URL of one page image
func (v *URLValidator) ValidatePageURL(pageURL string) error {
	if strings.TrimSpace(pageURL) == "" {
		return apperrors.NewValidationError("page URL cannot be empty", nil)
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return apperrors.NewValidationError("page URL is malformed", err)
	}
	if !v.schemes[strings.ToLower(u.Scheme)] {
		return apperrors.NewValidationError("page URL scheme not allowed", nil)
	}
	if u.Hostname() == "" {
		return apperrors.NewValidationError("page URL has no host", nil)
	}
	if !v.hostAllowed(u.Hostname()) {
		return apperrors.NewValidationError("page URL host not allowed", nil)
	}
	return nil
}

// ValidatePageURLs validates the URL list of a job. A URL listed twice is
// rejected since pages are ordered by position. The details of a failure
// name the offending position.
func (v *URLValidator) ValidatePageURLs(pageURLs []string) error {
	if len(pageURLs) == 0 {
		return apperrors.NewValidationError("at least one page URL is required", nil)
	}
	if v.maxPages > 0 && len(pageURLs) > v.maxPages {
		return apperrors.NewValidationError(fmt.Sprintf("a job may reference at most %d pages", v.maxPages), nil)
	}

	seen := make(map[string]int, len(pageURLs))
	for i, u := range pageURLs {
		if err := v.ValidatePageURL(u); err != nil {
			if appErr, ok := apperrors.As(err); ok {
				return appErr.WithDetails(fmt.Sprintf("page_urls[%d]: %s", i, u))
			}
			return err
		}
		if first, dup := seen[u]; dup {
			return apperrors.NewValidationError("page URL listed twice", nil).
				WithDetails(fmt.Sprintf("page_urls[%d] repeats page_urls[%d]: %s", i, first, u))
		}
		seen[u] = i
	}
	return nil
}

func (v *URLValidator) hostAllowed(host string) bool {
	if len(v.hosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range v.hosts {
		if suffix, ok := strings.CutPrefix(allowed, "*"); ok {
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}
