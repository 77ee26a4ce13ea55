// Package serializer converts typed handler arguments and results to and
// from wire payloads.
//
// Each registration carries a Type descriptor built with TypeOf. The
// descriptor drives typed decoding and, in strict mode, JSON schema
// validation of incoming payloads.
package serializer
