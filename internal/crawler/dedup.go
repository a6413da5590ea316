package crawler

// Dedupe drops records whose SourceURL was already seen, keeping the first.
// It is idempotent and does not modify its input.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.SourceURL]; dup {
			continue
		}
		seen[rec.SourceURL] = struct{}{}
		out = append(out, rec)
	}
	return out
}
