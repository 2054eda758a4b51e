package model

// Claim is the root input of a session: the statement to fact-check,
// plus any media-derived descriptions folded in before extraction.
// Immutable once a session has accepted it.
type Claim struct {
	Text         string   `json:"text"`                    // The claim text itself
	Descriptions []string `json:"descriptions,omitempty"`  // Media-derived supplemental text
	SubmittedVia string   `json:"submitted_via,omitempty"` // "cli", "batch", "api"
}

// FullText returns the claim text with media descriptions appended.
// This is the text the decomposition step operates on.
func (c Claim) FullText() string {
	text := c.Text
	for _, d := range c.Descriptions {
		if d == "" {
			continue
		}
		if text != "" {
			text += "\n\n"
		}
		text += d
	}
	return text
}

// Attachment is a media file reference handed to the MediaDescriber
// collaborator. The core never reads the bytes itself.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}
