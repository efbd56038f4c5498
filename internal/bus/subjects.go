package bus

const (
	LoginRequiredSubject = "session.login_required"
	StreamSubjectPrefix  = "session.stream."
)

func StreamSubject(sessionID string) string {
	return StreamSubjectPrefix + sessionID
}
