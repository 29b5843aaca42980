package share

import "time"

// FileRecord is the metadata kept for one shared file. The plaintext and
// the password are never stored.
type FileRecord struct {
	ID             string     `json:"id"`
	FileName       string     `json:"file_name"`
	MediaType      string     `json:"media_type"`
	CipherVersion  uint8      `json:"cipher_version"`
	Salt           []byte     `json:"salt"`
	Nonce          []byte     `json:"nonce"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	MaxReads       int        `json:"max_reads"`
	RemainingReads int        `json:"remaining_reads"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	BlobRef        string     `json:"blob_ref"`
	SizeBytes      int64      `json:"size_bytes"`
}

// Unlimited reports whether the record has no read budget.
func (r FileRecord) Unlimited() bool {
	return r.MaxReads == 0
}

// StoreInput is the request to create a share.
type StoreInput struct {
	Payload   []byte
	FileName  string
	MediaType string
	Password  string
	TTL       time.Duration
	MaxReads  int
}

// StoreResult echoes what the caller needs to build a share link.
type StoreResult struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	MediaType string    `json:"media_type"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxReads  int       `json:"max_reads"`
}

// RetrieveResult carries the decrypted payload. RemainingReads is always 0
// for unlimited shares.
type RetrieveResult struct {
	Payload        []byte
	FileName       string
	MediaType      string
	RemainingReads int
}

// Outcome is the result kind of a conditional decrement.
type Outcome int

const (
	// OutcomeNotFound means no record with the id exists.
	OutcomeNotFound Outcome = iota
	// OutcomeConsumed means one read was taken from the budget.
	OutcomeConsumed
	// OutcomeExhausted means the record exists but is expired or has no reads left.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConsumed:
		return "consumed"
	case OutcomeExhausted:
		return "exhausted"
	default:
		return "not_found"
	}
}

// Decrement is returned by ConditionalDecrement. Remaining is only
// meaningful when Outcome is OutcomeConsumed.
type Decrement struct {
	Outcome   Outcome
	Remaining int
}

// ExpiredRecord identifies a metadata row removed by a sweep whose blob
// still has to be deleted.
type ExpiredRecord struct {
	ID      string
	BlobRef string
}

// BlobInfo describes a stored blob for the orphan collector.
type BlobInfo struct {
	Ref          string
	Size         int64
	LastModified time.Time
}
