// Package pagination walks the pages of one resource of a paginated JSON API.
//
// Pages are requested strictly in order starting at 1. A page that answers
// with an empty array ends the walk. A page that fails after retries is
// charged to a per-resource failure budget and skipped; once the budget is
// exhausted the resource ends in error. Items collected so far are kept
// either way.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig())
//	driver := pagination.NewDriver(c, pagination.DefaultConfig("https://api.example.com"))
//	outcome := driver.Fetch(ctx, client.ResourcePosts, nil)
//
// The driver:
//   - Builds a PageRequest for each page
//   - Decodes records into items, dropping malformed ones
//   - Resets the failure budget on every successful page
//   - Reports pages, failures and dropped records in the Outcome
package pagination
