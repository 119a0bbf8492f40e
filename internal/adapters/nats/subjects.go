package natsadapter

// Subject layout. Session state is fire-and-forget on core NATS; fetch
// events are kept in JetStream for replay.
const (
	sessionSubjectPrefix = "locator.sessions."
	fetchSubjectPrefix   = "locator.fetch."

	FetchStream = "LOCATOR_FETCHES"
)

// SessionStateSubject is the subject carrying state snapshots of one session.
func SessionStateSubject(sessionID string) string {
	return sessionSubjectPrefix + sessionID + ".state"
}

// FetchEventSubject is the subject carrying fetch outcomes of one session.
func FetchEventSubject(sessionID string) string {
	return fetchSubjectPrefix + sessionID
}
