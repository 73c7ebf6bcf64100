package types

import "errors"

// ObjectMatch records the best object-level hit for a scan.
type ObjectMatch struct {
	Label      string
	Similarity float64 // cosine similarity in [0,1] after thresholding
}

// Candidate is a retrieval-time view of a Scan. It wraps the stored record
// instead of mutating it; Match is set only for object-level hits.
type Candidate struct {
	Scan            *Scan
	Match           *ObjectMatch
	SceneSimilarity float64
}

// ID returns the wrapped scan id.
func (c Candidate) ID() string {
	if c.Scan == nil {
		return ""
	}
	return c.Scan.ID
}

// FromObjectSearch reports whether the candidate came from object-level search.
func (c Candidate) FromObjectSearch() bool {
	return c.Match != nil
}

// SearchResult is the final answer for a query. Image is nil when the judge
// picked no candidate.
type SearchResult struct {
	Answer string  `json:"answer"`
	Image  *string `json:"image"`
}

// NoMatchAnswer is returned without consulting the judge when retrieval is empty.
const NoMatchAnswer = "No matching items found."

// Candidate validation errors
var (
	ErrMissingScan    = errors.New("candidate has no scan")
	ErrInvalidSimilar = errors.New("match similarity must be between 0 and 1")
)

// Validate checks the candidate's wrapped scan and match metadata.
func (c Candidate) Validate() error {
	if c.Scan == nil || c.Scan.ID == "" {
		return ErrMissingScan
	}
	if c.Match != nil && (c.Match.Similarity < 0 || c.Match.Similarity > 1) {
		return ErrInvalidSimilar
	}
	return nil
}
