package caltrain

import (
	"errors"
	"fmt"

	"tidbyt.dev/caltrain/downloader"
)

var (
	// No current coordinate, and nothing cached to fall back on.
	ErrNoLocation = errors.New("location not available")

	// Empty station directory, or a station ID that isn't in it.
	ErrNoStation = errors.New("no station found")

	// Too few upcoming departures to forecast a timeline.
	ErrInsufficientDepartures = errors.New("insufficient departures")
)

// Upstream could not be reached, or answered with a non-200 status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(url string, err error) *FetchError {
	fetchErr := &FetchError{URL: url, Err: err}
	statusErr := &downloader.StatusError{}
	if errors.As(err, &statusErr) {
		fetchErr.StatusCode = statusErr.StatusCode
	}
	return fetchErr
}

// Upstream payload could not be decoded. What names the payload:
// "trip updates", "stations" or "timetable".
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result of a refresh call that didn't fail.
type RefreshOutcome int

const (
	// Upstream was fetched and the cache replaced.
	RefreshCompleted RefreshOutcome = iota

	// The gate said no. Not reported to users.
	RefreshSkipped
)

func (o RefreshOutcome) String() string {
	if o == RefreshSkipped {
		return "skipped"
	}
	return "completed"
}
