package domain

// Transmission is an outbound send of a complete RFC822 message.
type Transmission struct {
	EmailRFC822 string
	Recipients  []string
}

// TransmissionResult is the provider's acceptance summary.
type TransmissionResult struct {
	ID                      string `json:"id"`
	TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
	TotalRejectedRecipients int    `json:"total_rejected_recipients"`
}
