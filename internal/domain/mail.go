package domain

// Mail is an outbound message handed to the mail gateway.
type Mail struct {
	To      string
	ToName  string
	Subject string
	Body    string
}
