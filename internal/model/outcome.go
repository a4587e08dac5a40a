package model

type Action string

const (
	ActionWouldProcess  Action = "would_process"
	ActionCreated       Action = "created"
	ActionSkippedExists Action = "skipped_exists"
	ActionFailed        Action = "failed"
)

// Outcome is the result of attempting to provision one user.
type Outcome struct {
	Email          string `json:"email"`
	Action         Action `json:"action"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
	ErrorDetail    string `json:"error_detail,omitempty"`
	// Password is only set for accounts created in live mode.
	Password string `json:"password,omitempty"`
}

func WouldProcess(email string) Outcome {
	return Outcome{Email: email, Action: ActionWouldProcess}
}

func Created(email, id, password string) Outcome {
	return Outcome{Email: email, Action: ActionCreated, ProviderUserID: id, Password: password}
}

func SkippedExists(email string) Outcome {
	return Outcome{Email: email, Action: ActionSkippedExists}
}

func Failed(email, detail string) Outcome {
	return Outcome{Email: email, Action: ActionFailed, ErrorDetail: detail}
}
