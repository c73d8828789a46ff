package models

// SubmitJobRequest submits a job whose pages are fetched from URLs.
type SubmitJobRequest struct {
	Title    string      `json:"title"`
	PageURLs []string    `json:"page_urls" binding:"required,min=1,dive,url"`
	Expected []string    `json:"expected_text,omitempty"`
	Options  *JobOptions `json:"options,omitempty"`
}

// ManualCropRequest replaces a page's crop box.
type ManualCropRequest struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right" binding:"required"`
	Bottom int `json:"bottom" binding:"required"`
}

// Box converts the request to a manual crop box.
func (r ManualCropRequest) Box() CropBox {
	return CropBox{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom, Provenance: ProvenanceManual}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// PageStatus is the per-page part of a job status snapshot.
type PageStatus struct {
	Number      int            `json:"number"`
	NeedsReview bool           `json:"needs_review"`
	Reviewed    bool           `json:"reviewed"`
	Provenance  Provenance     `json:"provenance,omitempty"`
	Reasons     []ReviewReason `json:"reasons,omitempty"`
	Excluded    bool           `json:"excluded,omitempty"`
	Degraded    bool           `json:"degraded,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// JobStatusResponse is the status snapshot exposed to clients.
type JobStatusResponse struct {
	ID            string       `json:"id"`
	Title         string       `json:"title,omitempty"`
	Status        JobStatus    `json:"status"`
	Attempt       int          `json:"attempt"`
	Pages         []PageStatus `json:"pages"`
	Error         *JobError    `json:"error,omitempty"`
	ErrorSummary  string       `json:"error_summary,omitempty"`
	DegradedPages int          `json:"degraded_pages"`
	Warnings      []string     `json:"warnings,omitempty"`
	Output        *Artifacts   `json:"output,omitempty"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
}

// PageStateResponse is what the page editor reads before changing a crop.
type PageStateResponse struct {
	JobID          string         `json:"job_id"`
	Number         int            `json:"number"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Crop           CropBox        `json:"crop"`
	AutoCrop       CropBox        `json:"auto_crop"`
	CropConfidence float64        `json:"crop_confidence"`
	Skew           float64        `json:"skew"`
	NeedsReview    bool           `json:"needs_review"`
	Reviewed       bool           `json:"reviewed"`
	Override       bool           `json:"override"`
	Reasons        []ReviewReason `json:"reasons,omitempty"`
}

// NewPageStateResponse builds the editor view of a page.
func NewPageStateResponse(p *Page) PageStateResponse {
	return PageStateResponse{
		JobID:          p.JobID,
		Number:         p.Number,
		Width:          p.Width,
		Height:         p.Height,
		Crop:           p.Crop,
		AutoCrop:       p.AutoCrop,
		CropConfidence: p.CropConfidence,
		Skew:           p.Skew,
		NeedsReview:    p.NeedsReview,
		Reviewed:       p.Reviewed,
		Override:       p.Override,
		Reasons:        p.Reasons,
	}
}
