// Package roundup defines the record model, worker contracts, and retry policy
// shared by the fetch pipeline. Records are roundup documents whose story links
// are replaced in place by extracted article text as the pipeline runs.
package roundup
