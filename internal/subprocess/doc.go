// Package subprocess launches a peer process whose stdin and stdout carry a
// duplexrpc stream.
//
// It handles process lifecycle management, stderr buffering and streaming,
// and converts abnormal exits to *errors.ProcessError.
package subprocess
