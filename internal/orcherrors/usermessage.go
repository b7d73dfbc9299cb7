package orcherrors

// UserMessage maps an error to the generic, redacted string shown to an
// end user (spec.md §7, §8 invariant 8). It never echoes err.Error().
func UserMessage(err error) string {
	k, ok := KindOf(err)
	if !ok {
		return "an error occurred"
	}
	switch k {
	case InvalidArgument:
		return "the request was invalid"
	case Unauthorized:
		return "authentication failed"
	case Timeout:
		return "the deployment request timed out — please try again later"
	case AllProvidersFailed:
		return "no provider was available — please try again later"
	default:
		return "an error occurred"
	}
}
