package track

import "errors"

var (
	// ErrMidMismatch is returned when a replacement media description does
	// not carry the track's mid.
	ErrMidMismatch = errors.New("media description mid does not match track mid")
	// ErrTrackClosed is returned on send attempts after the track closed or
	// before a transport was attached.
	ErrTrackClosed = errors.New("track is closed")
	// ErrMediaUnsupported is returned when media has been disabled for the
	// whole connection.
	ErrMediaUnsupported = errors.New("media is not supported")
	// ErrMidTooLong is returned at construction when the mid does not fit a
	// one-byte extension element.
	ErrMidTooLong = errors.New("mid exceeds 16 bytes")

	errEmptyMid          = errors.New("empty mid")
	errNoFreeExtensionID = errors.New("no free header extension id")
)
