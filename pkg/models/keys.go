package models

import "fmt"

// Artifact key layout. Originals are shared by all attempts; everything an
// attempt derives lives under its own prefix and is never read by a later one.

func JobPrefix(jobID string) string {
	return fmt.Sprintf("jobs/%s/", jobID)
}

func OriginalKey(jobID string, page int, ext string) string {
	return fmt.Sprintf("jobs/%s/original/page_%04d%s", jobID, page, ext)
}

func AttemptPrefix(jobID string, attempt int) string {
	return fmt.Sprintf("jobs/%s/attempt-%d/", jobID, attempt)
}

func ProcessedPageKey(jobID string, attempt, page int) string {
	return fmt.Sprintf("%spages/page_%04d.jpg", AttemptPrefix(jobID, attempt), page)
}

func TextLayerKey(jobID string, attempt, page int) string {
	return fmt.Sprintf("%stext/page_%04d.json", AttemptPrefix(jobID, attempt), page)
}

func OutputKey(jobID string, attempt int, name string) string {
	return AttemptPrefix(jobID, attempt) + name
}
