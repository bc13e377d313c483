package models

// Link is an outbound link resolved against the page it was found on.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// ParsedDocument is what content extraction hands to the index.
type ParsedDocument struct {
	URL         string
	Title       string
	Description string
	Text        string
	Links       []Link
	Tokens      []string
	// term -> token offsets, ascending
	TermPositions map[string][]uint32
}
