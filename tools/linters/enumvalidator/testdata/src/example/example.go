package example

type Platform string

const (
	PlatformGoogle Platform = "google"
	PlatformYelp   Platform = "yelp"
)

type AttemptState string

const (
	AttemptStateQueued AttemptState = "queued"
)

type PostingAttempt struct {
	Platform Platform
	State    AttemptState
	// LastError is a plain string, so literals are fine here.
	LastError string
}

func bad() {
	a := &PostingAttempt{}
	a.Platform = "myspace" // want "enum field Platform assigned string literal"
	a.State = ("queued")   // want "enum field State assigned string literal"

	_ = PostingAttempt{Platform: "yelp"} // want "enum field Platform assigned string literal"
}

func good() {
	a := &PostingAttempt{}
	a.Platform = PlatformGoogle
	a.State = AttemptStateQueued
	a.LastError = "lost-in-flight"

	_ = PostingAttempt{Platform: PlatformYelp, LastError: "timeout"}
}

func alsoGood() {
	p := PlatformGoogle
	a := &PostingAttempt{Platform: p}
	_ = a
}
