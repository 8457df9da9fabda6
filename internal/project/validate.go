package project

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidationError names the first offending field of a project file.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Slugs double as route segments, so they must not shadow the service's own endpoints.
var reservedSlugs = map[string]bool{
	"health":  true,
	"ready":   true,
	"metrics": true,
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func validateSlug(slug string) error {
	if slug == "" {
		return errors.New("must not be empty")
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%q must match %s", slug, slugRegex.String())
	}
	if reservedSlugs[slug] {
		return fmt.Errorf("%q is reserved", slug)
	}
	return nil
}

func validateRegistry(registry string) error {
	if registry == "" {
		return invalid("app.registry", "must not be empty")
	}
	if strings.Contains(registry, "://") {
		return invalid("app.registry", "must be a registry host (optionally with port and path), not a URL")
	}
	if strings.ContainsAny(registry, " \t") {
		return invalid("app.registry", "must not contain whitespace")
	}
	if strings.HasPrefix(registry, "/") || strings.HasSuffix(registry, "/") || strings.Contains(registry, "//") {
		return invalid("app.registry", "must not have leading, trailing or empty path segments")
	}
	return nil
}

func validateHTTPSURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("must be a valid HTTPS URL")
	}
	if u.Scheme != "https" {
		return errors.New("must use HTTPS")
	}
	if u.Host == "" || u.Hostname() == "" {
		return errors.New("must have a host")
	}
	if u.User != nil {
		return errors.New("must not embed credentials")
	}
	return nil
}

func validateBranch(branch string) error {
	if branch == "" {
		return errors.New("must not be empty")
	}
	if strings.ContainsAny(branch, " \t\n") || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("%q is not a valid branch name", branch)
	}
	return nil
}

func validateLocation(location string) error {
	if location == "" {
		return errors.New("must not be empty")
	}
	if filepath.IsAbs(location) || path.IsAbs(location) {
		return errors.New("must be a relative path")
	}
	for _, seg := range strings.FieldsFunc(location, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return errors.New("must not contain parent paths")
		}
	}
	return nil
}
