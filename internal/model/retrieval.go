package model

// Fragment is a single piece of retrieved source text with its provenance.
type Fragment struct {
	SourceRef string  `json:"source_ref"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// RetrievedContext is the ranked result of a semantic lookup, most relevant
// first. An empty context is a valid outcome.
type RetrievedContext struct {
	Fragments []Fragment `json:"fragments"`
}

// Empty reports whether no fragments were retrieved.
func (c RetrievedContext) Empty() bool {
	return len(c.Fragments) == 0
}

// SourceRefs returns the provenance labels in rank order.
func (c RetrievedContext) SourceRefs() []string {
	refs := make([]string, 0, len(c.Fragments))
	for _, f := range c.Fragments {
		refs = append(refs, f.SourceRef)
	}
	return refs
}
