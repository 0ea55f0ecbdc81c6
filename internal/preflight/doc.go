// Package preflight provides readiness checks for the filesystem paths,
// executables, and remote services the worker depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before it starts consuming. Failed required
//     checks abort startup so jobs are not pulled off the queue only to fail.
//   - The CLI "rvcworker check" command prints every result, including the
//     optional remote checks (broker, bucket, callback endpoint).
//
// Remote checks are skipped when the corresponding setting is empty.
package preflight
