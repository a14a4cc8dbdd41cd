package lakefs

import "time"

// Repository is a version store repository record.
type Repository struct {
	ID               string `json:"id"`
	StorageNamespace string `json:"storage_namespace"`
	DefaultBranch    string `json:"default_branch"`
	CreationDate     int64  `json:"creation_date"`
}

// Ref is a named pointer to a commit.
type Ref struct {
	ID       string `json:"id"`
	CommitID string `json:"commit_id"`
}

// CommitRecord is a version store commit.
type CommitRecord struct {
	ID           string            `json:"id"`
	Parents      []string          `json:"parents"`
	Committer    string            `json:"committer"`
	Message      string            `json:"message"`
	CreationDate int64             `json:"creation_date"`
	MetaRangeID  string            `json:"meta_range_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// When returns the commit timestamp.
func (c *CommitRecord) When() time.Time {
	return time.Unix(c.CreationDate, 0).UTC()
}

// ObjectStats describes one object at a ref.
type ObjectStats struct {
	Path            string `json:"path"`
	PathType        string `json:"path_type"`
	PhysicalAddress string `json:"physical_address"`
	Checksum        string `json:"checksum"`
	SizeBytes       int64  `json:"size_bytes"`
	Mtime           int64  `json:"mtime"`
	ContentType     string `json:"content_type,omitempty"`
}

// IsCommonPrefix reports whether the entry is a directory-level prefix.
func (o *ObjectStats) IsCommonPrefix() bool {
	return o.PathType == "common_prefix"
}

// Pagination mirrors the version store's cursor envelope.
type Pagination struct {
	HasMore    bool   `json:"has_more"`
	NextOffset string `json:"next_offset"`
	Results    int    `json:"results"`
	MaxPerPage int    `json:"max_per_page"`
}

// DiffEntry is one changed path between two refs.
type DiffEntry struct {
	Type      string `json:"type"` // added, removed, changed
	Path      string `json:"path"`
	PathType  string `json:"path_type"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// apiError is the version store's error body.
type apiError struct {
	Message string `json:"message"`
}

type objectList struct {
	Results    []ObjectStats `json:"results"`
	Pagination Pagination    `json:"pagination"`
}

type commitList struct {
	Results    []CommitRecord `json:"results"`
	Pagination Pagination     `json:"pagination"`
}

type refList struct {
	Results    []Ref      `json:"results"`
	Pagination Pagination `json:"pagination"`
}

type diffList struct {
	Results    []DiffEntry `json:"results"`
	Pagination Pagination  `json:"pagination"`
}
