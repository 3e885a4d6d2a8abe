package dialect

import "github.com/nullbridge/llmgate/pkg/apierr"

// ClassifyStatus maps an upstream HTTP status code to an error kind, shared
// by both adapters (spec §4.5 "Both adapters classify upstream error status
// codes into the error kinds in §7"). It is apierr.ClassifyUpstreamStatus
// under another name so dialect callers don't need to import apierr's
// broader error-construction surface just to classify a status code.
func ClassifyStatus(statusCode int) apierr.Kind {
	return apierr.ClassifyUpstreamStatus(statusCode)
}
