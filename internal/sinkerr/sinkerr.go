// Package sinkerr defines the error taxonomy from spec §7 as sentinel
// errors that handlers map to HTTP status codes. Subsystems wrap these with
// fmt.Errorf("...: %w", sinkerr.Validation) so errors.Is still matches while
// context is preserved up the call stack.
package sinkerr

import "errors"

// Sentinel errors identifying each category in spec §7. Handlers use
// errors.Is against these, never string matching.
var (
	// Validation covers missing/invalid request fields: non-positive level,
	// missing url/content_base64, invalid run_id.
	Validation = errors.New("validation failure")

	// RoutingUnresolved marks a routing decision that fell back to the root
	// bucket because no rule matched; the upload still succeeds.
	RoutingUnresolved = errors.New("routing unresolved")

	// PdfIntegrity marks bytes that were expected to be a PDF but failed the
	// %PDF- magic-number sniff; the upload is quarantined, not rejected.
	PdfIntegrity = errors.New("pdf integrity check failed")

	// ConflictUnresolvable marks a reconciliation entry that exhausted the
	// 999 __dupN suffix slots.
	ConflictUnresolvable = errors.New("conflict unresolvable")

	// FilesystemTransient marks a cross-device rename that fell back to
	// copy+unlink; logged, never fails the request.
	FilesystemTransient = errors.New("filesystem transient error")

	// DiskHashFailure marks a file that could not be read for hashing during
	// reconciliation; the entry is skipped, reconciliation continues.
	DiskHashFailure = errors.New("disk hash failure")

	// Internal wraps anything else; maps to 5xx.
	Internal = errors.New("internal failure")

	// NotFound marks a lookup (job, domain, run) that does not exist.
	NotFound = errors.New("not found")
)
