package models

import "time"

// CaseStatus is the lifecycle status of a case.
type CaseStatus string

const (
	CaseActive CaseStatus = "active"
	CaseClosed CaseStatus = "closed"
)

// Screenshot is a captured evidence image plus its content digests.
type Screenshot struct {
	ID      string `json:"id"`
	OwnerID string `json:"userId"`
	// BlobID references the stored image in the blob store.
	BlobID string `json:"blobId"`
	// URL is where the stored image can be fetched.
	URL string `json:"url"`
	// SHA256 is the lower-hex SHA-256 digest computed by the capturing client.
	SHA256 string `json:"sha256Hash"`
	// MD5 is the lower-hex MD5 digest, kept as a secondary fingerprint.
	MD5        string    `json:"md5Hash"`
	CapturedAt time.Time `json:"timestamp"`
	Note       string    `json:"notes"`
	Linked     bool      `json:"linked"`
	// CaseID is set iff Linked is true.
	CaseID *string `json:"caseId"`
}

// ScreenshotFilter narrows a screenshot listing. OwnerID is required.
type ScreenshotFilter struct {
	OwnerID string
	// Linked, when set, keeps only screenshots with that link state.
	Linked *bool
}

// Case is a named grouping of screenshots that belong to one owner.
type Case struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      CaseStatus `json:"status"`
	// ScreenshotIDs is the membership fixed at creation, in order.
	ScreenshotIDs []string  `json:"screenshotIds"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CaseWithScreenshots is a case with its live membership: screenshots that still exist, in membership order.
type CaseWithScreenshots struct {
	Case
	Screenshots []Screenshot `json:"screenshots"`
}

// IntegrityResult is the outcome of comparing a candidate file against a stored digest.
type IntegrityResult struct {
	ScreenshotID string `json:"screenshotId"`
	Match        bool   `json:"match"`
	Expected     string `json:"expected"`
	Actual       string `json:"actual"`
}
