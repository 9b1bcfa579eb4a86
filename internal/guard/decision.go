package guard

// Kind identifies the outcome of an access evaluation.
type Kind int

const (
	KindAllow Kind = iota
	KindRedirectToSignIn
	KindRedirectToFallback
)

func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindRedirectToSignIn:
		return "redirect_to_signin"
	case KindRedirectToFallback:
		return "redirect_to_fallback"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating a request against the guard.
type Decision struct {
	Kind Kind

	// Location is where the client should be sent for redirect decisions.
	Location string

	// CallbackPath is the original destination preserved across sign-in.
	CallbackPath string

	// RequiredCourse is the entitlement the entitlement gate still has to verify.
	// Only set on allow decisions for enrollment-gated resources.
	RequiredCourse string
}

// Allow lets the request through.
func Allow() Decision {
	return Decision{Kind: KindAllow}
}

// RedirectToSignIn sends the client to the sign-in page, returning to callbackPath afterwards.
func RedirectToSignIn(callbackPath string) Decision {
	callbackPath = SafeCallbackPath(callbackPath)
	return Decision{
		Kind:         KindRedirectToSignIn,
		Location:     SignInURL(callbackPath),
		CallbackPath: callbackPath,
	}
}

// RedirectToFallback sends the client to a safe default page.
func RedirectToFallback(path string) Decision {
	return Decision{
		Kind:     KindRedirectToFallback,
		Location: SafeCallbackPath(path),
	}
}

// IsRedirect reports whether the decision sends the client elsewhere.
func (d Decision) IsRedirect() bool {
	return d.Kind == KindRedirectToSignIn || d.Kind == KindRedirectToFallback
}
