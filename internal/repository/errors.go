package repository

import "errors"

var (
	// ErrJobNotFound indicates the job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrPageNotFound indicates the page does not exist in the job
	ErrPageNotFound = errors.New("page not found")

	// ErrJobExists indicates a job with the same id was already created
	ErrJobExists = errors.New("job already exists")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
