package crawler

// Discovery is the outcome of reading the first listing page.
type Discovery struct {
	// Total is the page count when Known, otherwise the probing ceiling.
	Total int
	Known bool
}

// DiscoverPages reads the page-count marker from the first listing page.
// Without a usable marker the result is unknown and Total carries the
// probing ceiling; the dead-page predicate is the real stop condition.
func DiscoverPages(content []byte, listing ListingExtractor, ceiling int) Discovery {
	if ceiling <= 0 {
		ceiling = DefaultProbeCeiling
	}
	if n, ok := listing.PageCount(content); ok && n >= 1 {
		return Discovery{Total: n, Known: true}
	}
	return Discovery{Total: ceiling}
}
