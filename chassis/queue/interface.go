package queue

import "context"

// Config - unified configuration for queue publishers
type Config struct {
	Name string
	URL  string

	//AWS specified
	Region             string
	CredentialsFile    string
	CredentialsProfile string
	Retries            int
}

// Client - outbound queue publisher (SQS based). The task core only
// ever sends; consumers of the alert queue live outside this repo.
type Client interface {
	SendMessage(ctx context.Context, message string) error
}
