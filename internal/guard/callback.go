package guard

import (
	"net/url"
	"strings"
	"unicode"
)

const (
	// SignInPath is the sign-in page every unauthenticated request is sent to.
	SignInPath = "/auth/signin"

	// CallbackParam carries the original destination across sign-in.
	CallbackParam = "callbackUrl"

	// DashboardPath is the fallback for missing resources and unsafe callbacks.
	DashboardPath = "/dashboard"
)

// SignInURL builds the sign-in redirect for callbackPath, percent-encoding the callback.
func SignInURL(callbackPath string) string {
	return SignInPath + "?" + CallbackParam + "=" + url.QueryEscape(callbackPath)
}

// CoursePath is the public landing (purchase) page for a course.
func CoursePath(courseID string) string {
	return "/courses/" + url.PathEscape(courseID)
}

// CallbackFromQuery extracts the callback from sign-in query parameters.
// The result is always a same-origin path.
func CallbackFromQuery(values url.Values) string {
	return SafeCallbackPath(values.Get(CallbackParam))
}

// SafeCallbackPath returns raw when it is a path on this origin and DashboardPath otherwise.
// Protocol-relative ("//host"), backslash and absolute URLs are rejected to prevent open redirects.
func SafeCallbackPath(raw string) string {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return DashboardPath
	}
	if strings.Contains(raw, `\`) || strings.ContainsFunc(raw, unicode.IsControl) {
		return DashboardPath
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return DashboardPath
	}

	return raw
}
