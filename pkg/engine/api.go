package engine

// APIPrefix is the prefix for all engine routes.
var APIPrefix = "/engine"

// APIV1 is the versioned route prefix carrying the typed verbs and the
// control surface.
var APIV1 = APIPrefix + "/v1"

// RequestIDHeader carries the client-supplied correlation id. When absent
// the coordinator stamps a generated one; either way the id is echoed in
// every result's metadata and in this header on the response.
const RequestIDHeader = "X-Request-Id"
