package models

import (
	"image"
	"maps"
	"time"
)

// JobStatus is the state of a job in the processing state machine.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusReviewing  JobStatus = "reviewing"
	StatusFinalizing JobStatus = "finalizing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further automatic transition leaves s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Provenance tags where a crop box came from.
type Provenance string

const (
	ProvenanceAuto       Provenance = "auto"
	ProvenanceReconciled Provenance = "reconciled"
	ProvenanceManual     Provenance = "manual"
)

// CropBox is a rectangle in the pixel space of the page after its quarter
// turn and, when deskewing, after straightening.
type CropBox struct {
	Left       int        `json:"left"`
	Top        int        `json:"top"`
	Right      int        `json:"right"`
	Bottom     int        `json:"bottom"`
	Provenance Provenance `json:"provenance"`
}

// NewCropBox builds a box from a rectangle.
func NewCropBox(r image.Rectangle, p Provenance) CropBox {
	return CropBox{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Provenance: p}
}

func (b CropBox) Width() int  { return b.Right - b.Left }
func (b CropBox) Height() int { return b.Bottom - b.Top }

// Rect returns the box as an image.Rectangle.
func (b CropBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Center returns the box centre in pixel coordinates.
func (b CropBox) Center() (float64, float64) {
	return float64(b.Left+b.Right) / 2, float64(b.Top+b.Bottom) / 2
}

// Empty reports whether the box has no area or was never set.
func (b CropBox) Empty() bool {
	return b.Right <= b.Left || b.Bottom <= b.Top
}

// Within reports whether the box is well formed and lies inside w x h.
func (b CropBox) Within(w, h int) bool {
	return !b.Empty() && b.Left >= 0 && b.Top >= 0 && b.Right <= w && b.Bottom <= h
}

// SameRect compares geometry only, ignoring provenance.
func (b CropBox) SameRect(o CropBox) bool {
	return b.Left == o.Left && b.Top == o.Top && b.Right == o.Right && b.Bottom == o.Bottom
}

// DewarpModel is a vertical displacement field dy(x) = A*(x-CX)^2 + B*(x-CX)
// over the deskewed page. An identity model leaves the image untouched.
type DewarpModel struct {
	Identity   bool    `json:"identity"`
	A          float64 `json:"a"`
	B          float64 `json:"b"`
	CX         float64 `json:"cx"`
	Lines      int     `json:"lines"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Displacement returns dy at column x.
func (m *DewarpModel) Displacement(x float64) float64 {
	if m == nil || m.Identity {
		return 0
	}
	d := x - m.CX
	return m.A*d*d + m.B*d
}

// ReviewReason explains why a page was flagged for review.
type ReviewReason string

const (
	ReasonLowConfidence   ReviewReason = "low_confidence"
	ReasonSkewUnknown     ReviewReason = "skew_unknown"
	ReasonTooSmall        ReviewReason = "too_small"
	ReasonWidthDeviation  ReviewReason = "width_deviation"
	ReasonHeightDeviation ReviewReason = "height_deviation"
	ReasonTouchesBorder   ReviewReason = "touches_border"
)

// OCRAccuracy compares recognized text against an expected transcript.
type OCRAccuracy struct {
	CER float64 `json:"cer"`
	WER float64 `json:"wer"`
}

// Page is one scanned page of a job.
type Page struct {
	JobID  string `json:"job_id"`
	Number int    `json:"number"`

	// Original is the artifact key of the ingested image; it never changes.
	Original     string `json:"original"`
	SourceName   string `json:"source_name,omitempty"`
	ExpectedText string `json:"expected_text,omitempty"`
	// Rotate is the clockwise quarter turn applied to the original before
	// anything else; every box of the page is in the turned image's space.
	Rotate int  `json:"rotate,omitempty"`
	Cover  bool `json:"cover,omitempty"`
	Width  int  `json:"width"`
	Height int  `json:"height"`

	AutoCrop       CropBox        `json:"auto_crop"`
	Crop           CropBox        `json:"crop"`
	CropConfidence float64        `json:"crop_confidence"`
	Skew           float64        `json:"skew"`
	SkewConfidence float64        `json:"skew_confidence"`
	Dewarp         *DewarpModel   `json:"dewarp,omitempty"`
	Regions        []CropBox      `json:"regions,omitempty"`
	Reasons        []ReviewReason `json:"reasons,omitempty"`
	NeedsReview    bool           `json:"needs_review"`
	Reviewed       bool           `json:"reviewed"`
	Override       bool           `json:"override"`

	// Excluded pages failed ingestion and are left out of the output.
	Excluded bool   `json:"excluded"`
	Error    string `json:"error,omitempty"`

	Processed   string       `json:"processed,omitempty"`
	TextLayer   string       `json:"text_layer,omitempty"`
	OCRDegraded bool         `json:"ocr_degraded"`
	OCRError    string       `json:"ocr_error,omitempty"`
	Accuracy    *OCRAccuracy `json:"accuracy,omitempty"`
}

// ResetForAttempt clears everything an attempt derives, keeping manual overrides.
func (p *Page) ResetForAttempt() {
	p.Width, p.Height = 0, 0
	p.AutoCrop = CropBox{}
	if !p.Override {
		p.Crop = CropBox{}
		p.Reviewed = false
	}
	p.CropConfidence = 0
	p.Skew, p.SkewConfidence = 0, 0
	p.Dewarp = nil
	p.Regions = nil
	p.Reasons = nil
	p.NeedsReview = false
	p.Excluded = false
	p.Error = ""
	p.Processed = ""
	p.TextLayer = ""
	p.OCRDegraded = false
	p.OCRError = ""
	p.Accuracy = nil
}

// Clone returns a deep copy.
func (p *Page) Clone() *Page {
	cp := *p
	if p.Dewarp != nil {
		d := *p.Dewarp
		cp.Dewarp = &d
	}
	if p.Accuracy != nil {
		a := *p.Accuracy
		cp.Accuracy = &a
	}
	cp.Regions = append([]CropBox(nil), p.Regions...)
	cp.Reasons = append([]ReviewReason(nil), p.Reasons...)
	return &cp
}

// JobError is the first root cause of a failed job.
type JobError struct {
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Artifacts are the outputs of a completed job.
type Artifacts struct {
	PDF       string `json:"pdf"`
	HOCR      string `json:"hocr,omitempty"`
	Text      string `json:"text,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Job is one batch of pages assembled into a single document.
type Job struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Pages    []int      `json:"pages"`
	Options  JobOptions `json:"options"`
	Status   JobStatus  `json:"status"`
	Attempt  int        `json:"attempt"`
	Error    *JobError  `json:"error,omitempty"`
	Output   *Artifacts `json:"output,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
	Degraded []int      `json:"degraded,omitempty"`
	// Properties are document properties carried into the output metadata.
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Pages = append([]int(nil), j.Pages...)
	cp.Warnings = append([]string(nil), j.Warnings...)
	cp.Degraded = append([]int(nil), j.Degraded...)
	cp.Properties = maps.Clone(j.Properties)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.Output != nil {
		o := *j.Output
		cp.Output = &o
	}
	return &cp
}

// AttemptPrefix is the artifact key prefix of the job's current attempt.
func (j *Job) AttemptPrefix() string {
	return AttemptPrefix(j.ID, j.Attempt)
}
